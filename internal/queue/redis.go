package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/careerassist-ai/careerassist/internal/common"
	"github.com/careerassist-ai/careerassist/internal/metrics"
)

// RedisQueue implements Queue on Redis Streams with a consumer group.
//
//   - Enqueue is XADD (or a scheduled zset when delayed).
//   - Receive first reclaims entries idle past the visibility timeout with
//     XAUTOCLAIM, then falls back to a blocking XREADGROUP.
//   - Delivery counts come from XPENDING; entries past MaxDeliveries are
//     moved to a dead-letter stream and acknowledged.
//   - Ack is XACK + XDEL, called only once the job row is durably terminal.
type RedisQueue struct {
	rdb        *redis.Client
	log        *slog.Logger
	m          *metrics.Metrics
	consumerID string

	stream        string
	dlqStream     string
	scheduledKey  string
	group         string
	blockWait     time.Duration
	visibility    time.Duration
	maxDeliveries int64
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue connects to Redis and ensures the consumer group exists.
// m may be nil.
func NewRedisQueue(ctx context.Context, cfg common.QueueConfig, log *slog.Logger, m *metrics.Metrics) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	q := &RedisQueue{
		rdb:           rdb,
		log:           log,
		m:             m,
		consumerID:    "orch-" + uuid.New().String()[:8],
		stream:        cfg.Stream,
		dlqStream:     dlqName(cfg.Stream),
		scheduledKey:  cfg.Stream + ":scheduled",
		group:         cfg.ConsumerGroup,
		blockWait:     cfg.BlockWait,
		visibility:    cfg.VisibilityTimeout,
		maxDeliveries: int64(cfg.MaxDeliveries),
	}

	err = rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

// dlqName derives the dead-letter stream name from the queue stream.
// jobs:v1:analysis -> dlq:v1:analysis
func dlqName(stream string) string {
	if rest, ok := strings.CutPrefix(stream, "jobs:"); ok {
		return "dlq:" + rest
	}
	return "dlq:" + stream
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg StartMessage, opts EnqueueOptions) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal start message: %w", err)
	}

	if opts.Delay > 0 {
		availableAt := time.Now().Add(opts.Delay)
		if err := q.rdb.ZAdd(ctx, q.scheduledKey, redis.Z{
			Score:  float64(availableAt.UnixMilli()),
			Member: string(payload),
		}).Err(); err != nil {
			return fmt.Errorf("schedule delayed message: %w", err)
		}
		q.log.Info("message scheduled", "job_id", msg.JobID, "available_at", availableAt)
		return nil
	}

	if err := q.xadd(ctx, payload, msg); err != nil {
		return err
	}
	q.log.Info("message enqueued", "job_id", msg.JobID, "job_type", msg.JobType)
	return nil
}

func (q *RedisQueue) xadd(ctx context.Context, payload []byte, msg StartMessage) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"job_id":   msg.JobID.String(),
			"job_type": string(msg.JobType),
			"payload":  string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("add to stream: %w", err)
	}
	return nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Delivery, error) {
	if err := q.promoteScheduled(ctx); err != nil {
		q.log.Warn("promote scheduled messages failed", "error", err)
	}

	if d, err := q.reclaimExpired(ctx); err != nil || d != nil {
		return d, err
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumerID,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    q.blockWait,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read from stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.toDelivery(streams[0].Messages[0], 1)
}

// promoteScheduled moves due delayed messages from the zset onto the stream.
func (q *RedisQueue) promoteScheduled(ctx context.Context) error {
	now := time.Now().UnixMilli()
	members, err := q.rdb.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, q.scheduledKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another consumer promoted it first
		}
		var msg StartMessage
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			q.log.Error("dropping unparseable scheduled message", "error", err)
			continue
		}
		if err := q.xadd(ctx, []byte(member), msg); err != nil {
			return err
		}
		q.log.Info("scheduled message promoted", "job_id", msg.JobID)
	}
	return nil
}

// reclaimExpired claims entries whose visibility window has lapsed. Entries
// already delivered more than maxDeliveries times are dead-lettered here so
// they stop cycling through consumers.
func (q *RedisQueue) reclaimExpired(ctx context.Context) (*Delivery, error) {
	start := "0-0"
	for {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: q.consumerID,
			MinIdle:  q.visibility,
			Start:    start,
			Count:    1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, fmt.Errorf("autoclaim: %w", err)
		}
		if len(msgs) == 0 {
			return nil, nil
		}

		msg := msgs[0]
		count, err := q.deliveryCount(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		q.m.IncRedelivery()
		q.log.Warn("message reclaimed after visibility timeout",
			"message_id", msg.ID, "delivery_count", count)

		if count > q.maxDeliveries {
			d, derr := q.toDelivery(msg, count)
			if derr != nil {
				// Unparseable and over the limit: dead-letter the raw entry.
				d = &Delivery{HandleID: msg.ID}
			}
			if err := q.DeadLetter(ctx, d, fmt.Sprintf("delivery count %d exceeds max %d", count, q.maxDeliveries)); err != nil {
				return nil, err
			}
			start = next
			continue
		}

		d, err := q.toDelivery(msg, count)
		if err != nil {
			if dlErr := q.DeadLetter(ctx, &Delivery{HandleID: msg.ID}, "unparseable payload: "+err.Error()); dlErr != nil {
				return nil, dlErr
			}
			start = next
			continue
		}
		return d, nil
	}
}

func (q *RedisQueue) deliveryCount(ctx context.Context, messageID string) (int64, error) {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("pending lookup: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	return pending[0].RetryCount, nil
}

func (q *RedisQueue) toDelivery(msg redis.XMessage, count int64) (*Delivery, error) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no payload", msg.ID)
	}
	var sm StartMessage
	if err := json.Unmarshal([]byte(payload), &sm); err != nil {
		return nil, fmt.Errorf("parse message %s: %w", msg.ID, err)
	}
	return &Delivery{Message: sm, HandleID: msg.ID, DeliveryCount: count}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.rdb.XAck(ctx, q.stream, q.group, d.HandleID).Err(); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	if err := q.rdb.XDel(ctx, q.stream, d.HandleID).Err(); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	fields := map[string]interface{}{
		"original_message_id": d.HandleID,
		"original_stream":     q.stream,
		"reason":              reason,
		"moved_at":            time.Now().UTC().Format(time.RFC3339),
		"consumer_id":         q.consumerID,
	}
	if d.Message.JobID != uuid.Nil {
		fields["job_id"] = d.Message.JobID.String()
		if payload, err := json.Marshal(d.Message); err == nil {
			fields["payload"] = string(payload)
		}
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: fields}).Err(); err != nil {
		return fmt.Errorf("add to dead-letter stream: %w", err)
	}
	if err := q.Ack(ctx, d); err != nil {
		return err
	}
	q.m.IncDeadLettered()
	q.log.Error("message dead-lettered", "message_id", d.HandleID, "job_id", d.Message.JobID, "reason", reason)
	return nil
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

// ConsumerID returns this consumer's unique identifier within the group.
func (q *RedisQueue) ConsumerID() string {
	return q.consumerID
}
