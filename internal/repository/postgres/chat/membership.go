package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"chorus/internal/domain"
	chatModels "chorus/internal/domain/models/chat"
	chatRepo "chorus/internal/domain/repositories/chat"
	"chorus/internal/repository/postgres"
)

// PostgresMembershipRepository implements the MembershipRepository interface
// using PostgreSQL.
//
// The memberships table carries a partial unique index on
// (conversation_id, model) WHERE visibility <> 'removed', so a model has at
// most one live membership while removed rows pile up for audit.
type PostgresMembershipRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewMembershipRepository creates a new PostgresMembershipRepository
func NewMembershipRepository(config *postgres.RepositoryConfig) chatRepo.MembershipRepository {
	return &PostgresMembershipRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create persists a new membership row
func (r *PostgresMembershipRepository) Create(ctx context.Context, m *chatModels.ModelMembership) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (conversation_id, model, alias, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, r.tables.Memberships)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		m.ConversationID,
		m.Model,
		m.Alias,
		m.Visibility,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)

	if err != nil {
		if postgres.IsPgDuplicateError(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("model '%s' is already a member of the conversation", m.Model),
				ResourceType: "membership",
				ResourceID:   m.Model,
			}
		}
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("conversation %s: %w", m.ConversationID, domain.ErrNotFound)
		}
		return fmt.Errorf("create membership: %w", err)
	}

	return nil
}

// Get retrieves the current (non-removed) membership for a model
func (r *PostgresMembershipRepository) Get(ctx context.Context, conversationID, model string) (*chatModels.ModelMembership, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, model, alias, visibility, created_at, updated_at
		FROM %s
		WHERE conversation_id = $1 AND model = $2 AND visibility <> $3
	`, r.tables.Memberships)

	var m chatModels.ModelMembership
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, conversationID, model, chatModels.VisibilityRemoved).Scan(
		&m.ID,
		&m.ConversationID,
		&m.Model,
		&m.Alias,
		&m.Visibility,
		&m.CreatedAt,
		&m.UpdatedAt,
	)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("membership for model %s: %w", model, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}

	return &m, nil
}

// List returns all membership rows of a conversation, removed included
func (r *PostgresMembershipRepository) List(ctx context.Context, conversationID string) ([]chatModels.ModelMembership, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, model, alias, visibility, created_at, updated_at
		FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, r.tables.Memberships)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []chatModels.ModelMembership
	for rows.Next() {
		var m chatModels.ModelMembership
		err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.Model,
			&m.Alias,
			&m.Visibility,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}

	if memberships == nil {
		memberships = []chatModels.ModelMembership{}
	}

	return memberships, nil
}

// SetVisibility updates the membership's visibility state. Removal is
// terminal: a removed membership never matches the update, so any
// transition out of "removed" comes back as not found.
func (r *PostgresMembershipRepository) SetVisibility(ctx context.Context, conversationID, model, visibility string) (*chatModels.ModelMembership, error) {
	switch visibility {
	case chatModels.VisibilityVisible, chatModels.VisibilityHidden, chatModels.VisibilityRemoved:
	default:
		return nil, fmt.Errorf("%w: invalid visibility '%s'", domain.ErrValidation, visibility)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET visibility = $1, updated_at = $2
		WHERE conversation_id = $3 AND model = $4 AND visibility <> $5
		RETURNING id, conversation_id, model, alias, visibility, created_at, updated_at
	`, r.tables.Memberships)

	var m chatModels.ModelMembership
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		visibility,
		time.Now(),
		conversationID,
		model,
		chatModels.VisibilityRemoved,
	).Scan(
		&m.ID,
		&m.ConversationID,
		&m.Model,
		&m.Alias,
		&m.Visibility,
		&m.CreatedAt,
		&m.UpdatedAt,
	)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			if r.hasRemovedRow(ctx, conversationID, model) {
				return nil, fmt.Errorf("%w: model %s was removed and cannot change visibility", domain.ErrValidation, model)
			}
			return nil, fmt.Errorf("membership for model %s: %w", model, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("set membership visibility: %w", err)
	}

	return &m, nil
}

// hasRemovedRow distinguishes "never a member" from "removed" when an update
// matched nothing
func (r *PostgresMembershipRepository) hasRemovedRow(ctx context.Context, conversationID, model string) bool {
	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s
			WHERE conversation_id = $1 AND model = $2 AND visibility = $3
		)
	`, r.tables.Memberships)

	var exists bool
	executor := postgres.GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, conversationID, model, chatModels.VisibilityRemoved).Scan(&exists); err != nil {
		return false
	}
	return exists
}

// SetAlias updates the membership's display alias
func (r *PostgresMembershipRepository) SetAlias(ctx context.Context, conversationID, model, alias string) (*chatModels.ModelMembership, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET alias = $1, updated_at = $2
		WHERE conversation_id = $3 AND model = $4 AND visibility <> $5
		RETURNING id, conversation_id, model, alias, visibility, created_at, updated_at
	`, r.tables.Memberships)

	var m chatModels.ModelMembership
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		alias,
		time.Now(),
		conversationID,
		model,
		chatModels.VisibilityRemoved,
	).Scan(
		&m.ID,
		&m.ConversationID,
		&m.Model,
		&m.Alias,
		&m.Visibility,
		&m.CreatedAt,
		&m.UpdatedAt,
	)

	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("membership for model %s: %w", model, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("set membership alias: %w", err)
	}

	return &m, nil
}
