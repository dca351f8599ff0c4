// internal/domain/billingevent/repository.go
package billingevent

import "context"

// ProcessedEventRepository is a table with a uniqueness constraint on event id.
type ProcessedEventRepository interface {
	// Insert returns xerrors.ErrDuplicateEntry when the id already exists.
	Insert(ctx context.Context, ev *ProcessedEvent) error
	Exists(ctx context.Context, id string) (bool, error)
}

// DeadLetterRepository keeps admitted events whose processing failed.
type DeadLetterRepository interface {
	Save(ctx context.Context, dl *DeadLetter) error
	// Get returns xerrors.ErrDeadLetterNotFound when nothing is stored for the id.
	Get(ctx context.Context, eventID string) (*DeadLetter, error)
	List(ctx context.Context, limit int64) ([]DeadLetter, error)
	Delete(ctx context.Context, eventID string) error
}
