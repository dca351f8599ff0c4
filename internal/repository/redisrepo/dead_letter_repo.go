// internal/repository/redisrepo/dead_letter_repo.go
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"billing-service/internal/domain/billingevent"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "billing:deadletter"

// DeadLetterRepository stores dead letters as one hash field per event id,
// with a sorted set by failure time for newest-first listing.
type DeadLetterRepository struct {
	client *redis.Client
	prefix string
}

func NewDeadLetterRepository(client *redis.Client, prefix string) *DeadLetterRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &DeadLetterRepository{client: client, prefix: prefix}
}

// Save inserts or replaces the dead letter for dl.Event.ID
func (r *DeadLetterRepository) Save(ctx context.Context, dl *billingevent.DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.entriesKey(), dl.Event.ID, data)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  score(dl.FailedAt),
			Member: dl.Event.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store dead letter in redis: %w", err)
	}
	return nil
}

// Get retrieves a dead letter by event id
func (r *DeadLetterRepository) Get(ctx context.Context, eventID string) (*billingevent.DeadLetter, error) {
	data, err := r.client.HGet(ctx, r.entriesKey(), eventID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, xerrors.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return decode(data)
}

// List returns up to limit dead letters, newest failure first
func (r *DeadLetterRepository) List(ctx context.Context, limit int64) ([]billingevent.DeadLetter, error) {
	if limit <= 0 {
		return []billingevent.DeadLetter{}, nil
	}

	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter ids: %w", err)
	}
	if len(ids) == 0 {
		return []billingevent.DeadLetter{}, nil
	}

	values, err := r.client.HMGet(ctx, r.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letters: %w", err)
	}

	out := make([]billingevent.DeadLetter, 0, len(values))
	for _, v := range values {
		// Index entries without a hash field are left over from a partial delete.
		raw, ok := v.(string)
		if !ok {
			continue
		}
		dl, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *dl)
	}
	return out, nil
}

// Delete removes a dead letter; deleting a missing id is not an error
func (r *DeadLetterRepository) Delete(ctx context.Context, eventID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.entriesKey(), eventID)
		pipe.ZRem(ctx, r.indexKey(), eventID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

func (r *DeadLetterRepository) entriesKey() string {
	return r.prefix + ":entries"
}

func (r *DeadLetterRepository) indexKey() string {
	return r.prefix + ":index"
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func decode(data []byte) (*billingevent.DeadLetter, error) {
	var dl billingevent.DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &dl, nil
}
