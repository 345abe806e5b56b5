package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"chorus/internal/domain"
	chatModels "chorus/internal/domain/models/chat"
	chatRepo "chorus/internal/domain/repositories/chat"
	"chorus/internal/repository/postgres"
)

// PostgresTurnRepository implements the TurnRepository interface using
// PostgreSQL.
//
// Turns are append-only: sibling dispatch branches insert their own rows
// concurrently and never contend on the same row. The single mutation,
// SupersedeTurn, flips one status column during regeneration.
type PostgresTurnRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewTurnRepository creates a new PostgresTurnRepository
func NewTurnRepository(config *postgres.RepositoryConfig) chatRepo.TurnRepository {
	return &PostgresTurnRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// AppendTurn inserts a turn into the conversation log
func (r *PostgresTurnRepository) AppendTurn(ctx context.Context, turn *chatModels.Turn) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			conversation_id, role, content, model, status,
			prompt_tokens, completion_tokens, duration_ms, created_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9)
		RETURNING id, created_at
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		turn.ConversationID,
		turn.Role,
		turn.Content,
		turn.Model,
		turn.Status,
		turn.PromptTokens,
		turn.CompletionTokens,
		turn.DurationMs,
		turn.CompletedAt,
	).Scan(&turn.ID, &turn.CreatedAt)

	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("conversation %s: %w", turn.ConversationID, domain.ErrNotFound)
		}
		return fmt.Errorf("append turn: %w", err)
	}

	return nil
}

// ListTurns returns every turn of the conversation in creation order,
// superseded turns included
func (r *PostgresTurnRepository) ListTurns(ctx context.Context, conversationID string) ([]chatModels.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, role, content, model, status,
		       prompt_tokens, completion_tokens, duration_ms, created_at, completed_at
		FROM %s
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
	`, r.tables.Turns)

	return r.queryTurns(ctx, query, conversationID)
}

// ListActiveTurns returns the conversation's turns in creation order,
// excluding superseded ones
func (r *PostgresTurnRepository) ListActiveTurns(ctx context.Context, conversationID string) ([]chatModels.Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, conversation_id, role, content, model, status,
		       prompt_tokens, completion_tokens, duration_ms, created_at, completed_at
		FROM %s
		WHERE conversation_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
	`, r.tables.Turns)

	return r.queryTurns(ctx, query, conversationID, chatModels.TurnStatusActive)
}

// SupersedeTurn flips an active turn to superseded status
func (r *PostgresTurnRepository) SupersedeTurn(ctx context.Context, turnID string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1
		WHERE id = $2 AND status = $3
	`, r.tables.Turns)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		chatModels.TurnStatusSuperseded,
		turnID,
		chatModels.TurnStatusActive,
	)
	if err != nil {
		return fmt.Errorf("supersede turn: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("active turn %s: %w", turnID, domain.ErrNotFound)
	}

	return nil
}

func (r *PostgresTurnRepository) queryTurns(ctx context.Context, query string, args ...interface{}) ([]chatModels.Turn, error) {
	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []chatModels.Turn
	for rows.Next() {
		var turn chatModels.Turn
		err := rows.Scan(
			&turn.ID,
			&turn.ConversationID,
			&turn.Role,
			&turn.Content,
			&turn.Model,
			&turn.Status,
			&turn.PromptTokens,
			&turn.CompletionTokens,
			&turn.DurationMs,
			&turn.CreatedAt,
			&turn.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	if turns == nil {
		turns = []chatModels.Turn{}
	}

	return turns, nil
}
