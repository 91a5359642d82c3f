// Package notify publishes computation run events to Redis.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fifo-allocator/internal/domain"
)

// Client is the subset of *redis.Client used by Publisher.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

var _ Client = (*redis.Client)(nil)

// RunEvent is the JSON payload published for every terminal run.
type RunEvent struct {
	RunID              string     `json:"run_id"`
	Symbol             string     `json:"symbol"`
	Version            int        `json:"version"`
	Mode               string     `json:"mode"`
	Forced             bool       `json:"forced"`
	Status             string     `json:"status"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	BuysProcessed      int        `json:"buys_processed"`
	SellsProcessed     int        `json:"sells_processed"`
	AllocationsCreated int        `json:"allocations_created"`
	TradesExcluded     int        `json:"trades_excluded"`
	UnmatchedSells     int        `json:"unmatched_sells"`
	Error              string     `json:"error,omitempty"`
}

// NewRunEvent converts a log entry to its published form.
func NewRunEvent(e *domain.ComputationLogEntry) RunEvent {
	ev := RunEvent{
		RunID:              e.RunID,
		Symbol:             e.Symbol,
		Version:            e.AllocationVersion,
		Mode:               string(e.Mode),
		Forced:             e.Forced,
		Status:             string(e.Status),
		StartedAt:          e.StartedAt.UTC(),
		BuysProcessed:      e.BuysProcessed,
		SellsProcessed:     e.SellsProcessed,
		AllocationsCreated: e.AllocationsCreated,
		TradesExcluded:     e.TradesExcluded,
		UnmatchedSells:     e.UnmatchedSells,
	}
	if e.FinishedAt != nil {
		f := e.FinishedAt.UTC()
		ev.FinishedAt = &f
	}
	if e.ErrorDetail != nil {
		ev.Error = *e.ErrorDetail
	}
	return ev
}

// Publisher sends run events to a pub/sub channel and keeps the most recent
// ones in a capped list for late readers.
type Publisher struct {
	client  Client
	channel string
	listKey string
	listMax int64
}

// NewPublisher creates a Publisher. listMax <= 0 disables the recent list.
func NewPublisher(client Client, channel, listKey string, listMax int64) *Publisher {
	return &Publisher{
		client:  client,
		channel: channel,
		listKey: listKey,
		listMax: listMax,
	}
}

// NewClient opens a go-redis client and checks connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// Publish implements the recompute notifier.
func (p *Publisher) Publish(ctx context.Context, entry *domain.ComputationLogEntry) error {
	payload, err := json.Marshal(NewRunEvent(entry))
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	if p.listMax <= 0 || p.listKey == "" {
		return nil
	}
	if err := p.client.LPush(ctx, p.listKey, payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", p.listKey, err)
	}
	if err := p.client.LTrim(ctx, p.listKey, 0, p.listMax-1).Err(); err != nil {
		return fmt.Errorf("trim %s: %w", p.listKey, err)
	}
	return nil
}

// Recent returns up to n of the latest published events, newest first.
func (p *Publisher) Recent(ctx context.Context, n int64) ([]RunEvent, error) {
	if p.listKey == "" || n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, p.listKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.listKey, err)
	}
	events := make([]RunEvent, 0, len(raw))
	for _, item := range raw {
		var ev RunEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("decode run event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
