package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const lockStripes = 64

// Store holds one Record per (tenant, customer) pair. Records serialize to
// Redis; a striped in-process mutex guarantees at-most-one concurrent
// mutation per key. The lock is held across load-transition-save but never
// across notifier or advice network calls.
type Store struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	locks  [lockStripes]sync.Mutex
}

// NewStore creates a store. ttl of zero means records live until the
// customer explicitly ends the conversation.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &Store{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("tradecall.internal.conversation.store"),
	}
}

func recordKey(tenantID, customer string) string {
	return fmt.Sprintf("conversation:%s:%s", tenantID, customer)
}

func startedKey(tenantID string) string {
	return fmt.Sprintf("stats:%s:conversations_started", tenantID)
}

func (s *Store) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.locks[h.Sum32()%lockStripes]
}

// Mutate runs fn under the per-key exclusive section. fn receives the
// current record (a fresh one when the customer is unseen, with created
// true) and returns keep=false to destroy the record. Creation is
// persisted implicitly when fn succeeds.
func (s *Store) Mutate(ctx context.Context, tenantID, customer string, fn func(rec *Record, created bool) (keep bool, err error)) error {
	ctx, span := s.tracer.Start(ctx, "conversation.store.mutate")
	defer span.End()

	key := recordKey(tenantID, customer)
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	rec, created, err := s.load(ctx, key, tenantID, customer)
	if err != nil {
		span.RecordError(err)
		return err
	}

	keep, err := fn(rec, created)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if !keep {
		if created {
			return nil
		}
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			span.RecordError(err)
			return fmt.Errorf("conversation: failed to delete record: %w", err)
		}
		return nil
	}

	rec.UpdatedAt = time.Now().UTC()
	if err := s.save(ctx, key, rec); err != nil {
		span.RecordError(err)
		return err
	}
	if created {
		if err := s.redis.Incr(ctx, startedKey(tenantID)).Err(); err != nil {
			// Stats are best-effort; the record itself is already saved.
			span.RecordError(err)
		}
	}
	return nil
}

// Peek returns the record without acquiring the mutation lock, or nil when
// the customer is unseen. Intended for read-only inspection.
func (s *Store) Peek(ctx context.Context, tenantID, customer string) (*Record, error) {
	rec, created, err := s.load(ctx, recordKey(tenantID, customer), tenantID, customer)
	if err != nil {
		return nil, err
	}
	if created {
		return nil, nil
	}
	return rec, nil
}

func (s *Store) load(ctx context.Context, key, tenantID, customer string) (*Record, bool, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		now := time.Now().UTC()
		return &Record{
			TenantID:  tenantID,
			Customer:  customer,
			Slots:     make(map[string]string),
			StartedAt: now,
			UpdatedAt: now,
		}, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("conversation: failed to load record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("conversation: failed to decode record: %w", err)
	}
	if rec.Slots == nil {
		rec.Slots = make(map[string]string)
	}
	return &rec, false, nil
}

func (s *Store) save(ctx context.Context, key string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal record: %w", err)
	}
	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: failed to persist record: %w", err)
	}
	return nil
}

// ActiveConversations counts live records for a tenant.
func (s *Store) ActiveConversations(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	var cursor uint64
	pattern := recordKey(tenantID, "*")
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, fmt.Errorf("conversation: failed to scan records: %w", err)
		}
		count += int64(len(keys))
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// ConversationsStarted returns the all-time started counter for a tenant.
func (s *Store) ConversationsStarted(ctx context.Context, tenantID string) (int64, error) {
	n, err := s.redis.Get(ctx, startedKey(tenantID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("conversation: failed to read started counter: %w", err)
	}
	return n, nil
}
