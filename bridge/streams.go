package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/logging"
)

const (
	// payloadField carries the JSON-encoded event inside a stream entry.
	payloadField = "payload"

	// readBlock bounds a single XREADGROUP call so the loop notices
	// context cancellation promptly.
	readBlock = 5 * time.Second

	// readBatch caps how many entries one read returns.
	readBatch = 16
)

// StreamBusOptions configures the Redis stream bus.
type StreamBusOptions struct {
	// Logger receives structured stream events. Defaults to NoOpLogger.
	Logger logging.Logger

	// ConsumerName identifies this process inside its consumer groups.
	// Defaults to a random name.
	ConsumerName string

	// MaxStreamLen trims streams on publish (approximate). Zero disables
	// trimming.
	MaxStreamLen int64
}

// StreamBus publishes protocol events to Redis streams and consumes them
// through consumer groups. Groups are provisioned lazily on first use;
// entries are acknowledged only after the handler succeeds, so unprocessed
// events survive a crash and are redelivered.
type StreamBus struct {
	rdb  redis.UniversalClient
	opts StreamBusOptions
}

// NewStreamBus creates a stream bus on an existing Redis client.
func NewStreamBus(rdb redis.UniversalClient, optFns ...func(o *StreamBusOptions)) *StreamBus {
	opts := StreamBusOptions{
		Logger:       logging.NoOpLogger{},
		ConsumerName: "hub-" + uuid.NewString()[:8],
		MaxStreamLen: 10000,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &StreamBus{rdb: rdb, opts: opts}
}

// Publish appends one JSON-encoded event to a stream. Publish failures are
// reported, never fatal: the websocket path already delivered the event to
// connected clients.
func (s *StreamBus) Publish(ctx context.Context, stream string, event any) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode stream event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: string(raw)},
	}
	if s.opts.MaxStreamLen > 0 {
		args.MaxLen = s.opts.MaxStreamLen
		args.Approx = true
	}
	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		return &core.TransientInfraError{Op: "stream publish " + stream, Err: err}
	}
	s.opts.Logger.Debug("event published", "stream", stream)
	return nil
}

// EnsureGroup creates a consumer group at the start of the stream, creating
// the stream itself if needed. An already existing group is not an error.
// Provisioning failure degrades to log-and-continue: live broadcasts still
// work without the durable feed.
func (s *StreamBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		s.opts.Logger.Warn("consumer group provisioning failed",
			"stream", stream, "group", group, "error", err)
		return &core.TransientInfraError{Op: "ensure group " + group, Err: err}
	}
	return nil
}

// Handler processes one decoded stream event. A non-nil error leaves the
// entry unacknowledged for redelivery.
type Handler func(ctx context.Context, stream string, payload json.RawMessage) error

// Consume reads a stream through a consumer group until the context is
// cancelled. Each entry is passed to the handler and acknowledged only on
// success. Transient read errors are retried with exponential backoff;
// persistent failure returns the error so the caller can escalate.
func (s *StreamBus) Consume(ctx context.Context, stream, group string, handler Handler) error {
	if err := s.EnsureGroup(ctx, stream, group); err != nil {
		// Keep consuming anyway; the group may have been created by a
		// peer or an operator.
		s.opts.Logger.Warn("continuing without provisioning", "stream", stream, "group", group)
	}
	s.opts.Logger.Info("stream consumer started",
		"stream", stream, "group", group, "consumer", s.opts.ConsumerName)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entries, err := s.read(ctx, stream, group)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream %s read: %w", stream, err)
		}
		for _, msg := range entries {
			s.dispatch(ctx, stream, group, msg, handler)
		}
	}
}

// read performs one blocking XREADGROUP with bounded retry.
func (s *StreamBus) read(ctx context.Context, stream, group string) ([]redis.XMessage, error) {
	op := func() ([]redis.XMessage, error) {
		res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: s.opts.ConsumerName,
			Streams:  []string{stream, ">"},
			Count:    readBatch,
			Block:    readBlock,
		}).Result()
		if err == redis.Nil {
			// Block timeout with nothing to read.
			return nil, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			s.opts.Logger.Warn("stream read failed, retrying", "stream", stream, "error", err)
			return nil, err
		}
		if len(res) == 0 {
			return nil, nil
		}
		return res[0].Messages, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
}

func (s *StreamBus) dispatch(ctx context.Context, stream, group string, msg redis.XMessage, handler Handler) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		// Malformed entry; ack so it does not wedge the group.
		s.opts.Logger.Warn("stream entry without payload", "stream", stream, "id", msg.ID)
		s.ack(ctx, stream, group, msg.ID)
		return
	}
	if err := handler(ctx, stream, json.RawMessage(raw)); err != nil {
		s.opts.Logger.Error("stream handler failed, leaving unacked",
			"stream", stream, "id", msg.ID, "error", err)
		return
	}
	s.ack(ctx, stream, group, msg.ID)
}

func (s *StreamBus) ack(ctx context.Context, stream, group, id string) {
	if err := s.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		s.opts.Logger.Warn("stream ack failed", "stream", stream, "id", id, "error", err)
	}
}

// BroadcastHandler adapts the bus to the hub: every consumed entry is decoded
// and fanned out as a market_event broadcast.
func BroadcastHandler(broadcaster Broadcaster) Handler {
	return func(_ context.Context, _ string, payload json.RawMessage) error {
		var data any
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("decode stream payload: %w", err)
		}
		broadcaster.Broadcast(core.NewMarketEvent(data))
		return nil
	}
}
