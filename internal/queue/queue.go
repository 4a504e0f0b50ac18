package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careerassist-ai/careerassist/constants"
)

// StartMessage is the ephemeral queue entry referencing a job. Created once
// per job at intake; consumed and deleted only after the orchestrator has
// durably persisted the job's terminal state.
type StartMessage struct {
	JobID      uuid.UUID         `json:"job_id"`
	UserID     uuid.UUID         `json:"user_id"`
	JobType    constants.JobType `json:"job_type"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Delivery is one received message plus the opaque handle needed to
// acknowledge it. DeliveryCount starts at 1 on first delivery.
type Delivery struct {
	Message       StartMessage
	HandleID      string
	DeliveryCount int64
}

// EnqueueOptions tunes a single enqueue. A non-zero Delay keeps the message
// invisible to consumers until the delay elapses.
type EnqueueOptions struct {
	Delay time.Duration
}

// Queue is a durable at-least-once delivery channel for job-start messages.
//
// A received message not acknowledged within the visibility timeout becomes
// eligible for redelivery to another consumer. A message redelivered more
// than the configured maximum is moved to a dead-letter stream and never
// retried automatically.
type Queue interface {
	Enqueue(ctx context.Context, msg StartMessage, opts EnqueueOptions) error
	// Receive blocks up to the configured long-poll wait. Returns (nil, nil)
	// when no message became available.
	Receive(ctx context.Context) (*Delivery, error)
	// Ack permanently removes the message. Call only after the job has
	// reached a terminal status durably.
	Ack(ctx context.Context, d *Delivery) error
	// DeadLetter moves the message to the terminal inspection stream and
	// removes it from normal processing.
	DeadLetter(ctx context.Context, d *Delivery, reason string) error
	Close() error
}
