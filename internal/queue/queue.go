// Package queue carries provisioning jobs from the API to the worker with
// at-least-once delivery. A delivery that is neither acknowledged nor
// released becomes visible again after the queue's visibility timeout, so a
// consumer crash leads to redelivery rather than loss.
package queue

import (
	"context"
	"errors"

	"github.com/seantiz/urumi/internal/model"
)

// ErrMalformed is returned by Dequeue when a message could not be decoded.
// The message is discarded.
var ErrMalformed = errors.New("malformed job message")

// Delivery is one handed-out copy of a job.
type Delivery struct {
	Job model.Job
	// Receipt identifies this delivery to Ack and Nack.
	Receipt string
	// Attempt counts deliveries of the job, starting at 1.
	Attempt int
}

// Producer appends jobs to the queue.
type Producer interface {
	Enqueue(ctx context.Context, job model.Job) error
}

// Consumer takes jobs off the queue.
type Consumer interface {
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	// Ack removes a processed job.
	Ack(ctx context.Context, d *Delivery) error
	// Nack makes the job immediately visible for redelivery.
	Nack(ctx context.Context, d *Delivery) error
}

// Queue is both ends of a work queue.
type Queue interface {
	Producer
	Consumer
	Close() error
}
