// internal/service/reconcile/guard.go
package reconcile

import (
	"context"
	"fmt"
	"time"

	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"

	"go.uber.org/zap"
)

type Admission int

const (
	Admitted Admission = iota
	AlreadyProcessed
)

func (a Admission) String() string {
	if a == AlreadyProcessed {
		return "already_processed"
	}
	return "admitted"
}

// EventGuard enforces at-most-once processing of provider event ids. The
// store's uniqueness constraint is the only synchronization it relies on.
type EventGuard struct {
	repo   billingevent.ProcessedEventRepository
	now    func() time.Time
	logger *zap.Logger
}

func NewEventGuard(repo billingevent.ProcessedEventRepository, logger *zap.Logger) *EventGuard {
	return &EventGuard{
		repo:   repo,
		now:    time.Now,
		logger: logger,
	}
}

// Admit records eventID as processed. AlreadyProcessed means the caller must
// acknowledge without running business logic.
//
// When the insert fails for a reason other than a duplicate, the outcome of
// the insert is unknown, so existence is checked once: a present row admits
// the event, an absent row or a failed check is ErrGuardUnavailable.
func (g *EventGuard) Admit(ctx context.Context, eventID string, eventType billingevent.EventType) (Admission, error) {
	if eventID == "" {
		return Admitted, fmt.Errorf("event id is required: %w", xerrors.ErrInvalidInput)
	}

	err := g.repo.Insert(ctx, &billingevent.ProcessedEvent{
		ID:          eventID,
		EventType:   string(eventType),
		ProcessedAt: g.now().UTC(),
	})
	if err == nil {
		return Admitted, nil
	}
	if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
		return AlreadyProcessed, nil
	}

	g.logger.Warn("processed-event insert failed, re-checking existence",
		zap.String("event_id", eventID),
		zap.Error(err),
	)

	exists, checkErr := g.repo.Exists(ctx, eventID)
	if checkErr != nil {
		g.logger.Error("processed-event existence check failed",
			zap.String("event_id", eventID),
			zap.Error(checkErr),
		)
		return Admitted, fmt.Errorf("%w: %v", xerrors.ErrGuardUnavailable, err)
	}
	if !exists {
		return Admitted, fmt.Errorf("%w: %v", xerrors.ErrGuardUnavailable, err)
	}

	return Admitted, nil
}
