// internal/repository/postgres/processed_event_repo.go
package postgres

import (
	"context"
	"fmt"

	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"
)

type ProcessedEventRepository struct {
	db Querier
}

func NewProcessedEventRepository(db Querier) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// Insert records an event id; the primary key makes concurrent inserts of one id collide
func (r *ProcessedEventRepository) Insert(ctx context.Context, ev *billingevent.ProcessedEvent) error {
	query := `INSERT INTO processed_events (id, event_type, processed_at) VALUES ($1, $2, $3)`

	_, err := r.db.Exec(ctx, query, ev.ID, ev.EventType, ev.ProcessedAt)
	if isUniqueViolation(err) {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to insert processed event: %w", err)
	}
	return nil
}

// Exists checks whether an event id was already recorded
func (r *ProcessedEventRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_events WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}
