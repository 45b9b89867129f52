package ledger

import (
	"context"
	"fmt"

	"GuardianScope/internal/moderation"
)

// defaultPageSize is the TaskRange limit used when the caller passes none.
const defaultPageSize = 100

// ErrStreamClosed is returned by TaskStream.Next once the stream is gone.
// It is transient: the caller reopens the stream from its cursor.
var ErrStreamClosed = fmt.Errorf("%w: task stream closed", moderation.ErrTransient)

// TaskStream is a lazy, unbounded sequence of TaskCreated events.
type TaskStream interface {
	// Next blocks until the next event, ctx expiry, or stream loss.
	Next(ctx context.Context) (moderation.TaskCreated, error)

	// Close releases the stream.
	Close() error
}

// Client is the operator's view of the ledger.
// Every method may fail with an error matching moderation.ErrTransient.
type Client interface {
	// TaskRange returns up to limit tasks with id >= from, in id order.
	TaskRange(ctx context.Context, from moderation.TaskID, limit int) ([]moderation.TaskCreated, error)

	// StreamTaskCreated streams tasks with id >= from, then every new task.
	StreamTaskCreated(ctx context.Context, from moderation.TaskID) (TaskStream, error)

	// SubmitAttestation submits one attestation. Ledger-enforced refusals
	// match moderation.ErrRejected.
	SubmitAttestation(ctx context.Context, att moderation.Attestation) (moderation.Receipt, error)

	// QueryRegistration returns one operator's registration.
	QueryRegistration(ctx context.Context, op moderation.OperatorID) (moderation.Registration, error)

	// Operators returns every known registration, ordered by operator id.
	Operators(ctx context.Context) ([]moderation.Registration, error)

	// TaskVotes returns every accepted attestation of a task, with its
	// receipt, ordered by operator id.
	TaskVotes(ctx context.Context, task moderation.TaskID) ([]moderation.Vote, error)
}

// Admin is the ledger's write surface outside of attestations.
type Admin interface {
	// CreateTask appends a task and returns its event.
	CreateTask(ctx context.Context, content []byte) (moderation.TaskCreated, error)

	// Register moves an operator to reg.State. ServiceRegistered requires
	// a proof of possession of reg.PublicKey.
	Register(ctx context.Context, reg moderation.Registration, proof []byte) error

	// Deregister returns an operator to Unregistered.
	Deregister(ctx context.Context, op moderation.OperatorID) error
}

// Backend is a full ledger, as served by a Gateway.
type Backend interface {
	Client
	Admin
}
