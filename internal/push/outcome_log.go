package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LogEntry is one recorded send for an account.
type LogEntry struct {
	DeviceID  string    `json:"device_id"`
	Transport string    `json:"transport"`
	Success   bool      `json:"success"`
	Permanent bool      `json:"permanent,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// OutcomeLog keeps the most recent outcomes per serial.
type OutcomeLog interface {
	Record(ctx context.Context, outcome Outcome, at time.Time) error
	Recent(ctx context.Context, serial string) ([]LogEntry, error)
}

func entryFor(o Outcome, at time.Time) LogEntry {
	e := LogEntry{DeviceID: o.Ref, Transport: o.Transport, Success: o.Success, Permanent: o.Permanent, At: at.UTC()}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

// RedisOutcomeLog stores entries in a capped list per serial, newest first.
type RedisOutcomeLog struct {
	client *redis.Client
	size   int64
	ttl    time.Duration
}

// NewRedisOutcomeLog keeps size entries per serial for ttl after the last write.
func NewRedisOutcomeLog(client *redis.Client, size int64, ttl time.Duration) *RedisOutcomeLog {
	if size <= 0 {
		size = 50
	}
	return &RedisOutcomeLog{client: client, size: size, ttl: ttl}
}

func outcomeKey(serial string) string {
	return "pushlog:" + serial
}

// Record prepends the entry and trims the list.
func (l *RedisOutcomeLog) Record(ctx context.Context, outcome Outcome, at time.Time) error {
	payload, err := json.Marshal(entryFor(outcome, at))
	if err != nil {
		return err
	}
	key := outcomeKey(outcome.Serial)
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, l.size-1)
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns the stored entries, newest first.
func (l *RedisOutcomeLog) Recent(ctx context.Context, serial string) ([]LogEntry, error) {
	raw, err := l.client.LRange(ctx, outcomeKey(serial), 0, l.size-1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]LogEntry, 0, len(raw))
	for _, item := range raw {
		var e LogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// MemoryOutcomeLog is the single-process variant used without Redis.
type MemoryOutcomeLog struct {
	mu      sync.Mutex
	size    int
	entries map[string][]LogEntry
}

// NewMemoryOutcomeLog keeps size entries per serial.
func NewMemoryOutcomeLog(size int) *MemoryOutcomeLog {
	if size <= 0 {
		size = 50
	}
	return &MemoryOutcomeLog{size: size, entries: make(map[string][]LogEntry)}
}

func (l *MemoryOutcomeLog) Record(_ context.Context, outcome Outcome, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append([]LogEntry{entryFor(outcome, at)}, l.entries[outcome.Serial]...)
	if len(list) > l.size {
		list = list[:l.size]
	}
	l.entries[outcome.Serial] = list
	return nil
}

func (l *MemoryOutcomeLog) Recent(_ context.Context, serial string) ([]LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries[serial]...), nil
}
