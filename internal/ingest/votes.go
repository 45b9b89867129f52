package ingest

import (
	"context"
	"errors"
	"fmt"

	"GuardianScope/internal/ledger"
	"GuardianScope/internal/logger"
	"GuardianScope/internal/metrics"
	"GuardianScope/internal/moderation"
)

// VoteStore is the task state the vote mirror reads and feeds.
type VoteStore interface {
	Open() []moderation.Task
	RecordVote(v moderation.Vote) (moderation.Task, error)
}

// Votes mirrors the attestations the ledger accepted for open tasks into
// the store. Votes of operators running in other processes reach the
// aggregator only this way.
type Votes struct {
	client ledger.Client
	store  VoteStore
}

// NewVotes creates a vote mirror.
func NewVotes(client ledger.Client, store VoteStore) *Votes {
	return &Votes{client: client, store: store}
}

// Sync records every ledger vote of an open task that the store lacks.
// It returns the number of votes recorded. A ledger failure stops the
// pass; the next one resumes from the store state.
func (v *Votes) Sync(ctx context.Context) (int, error) {
	var recorded int

	for _, task := range v.store.Open() {
		votes, err := v.client.TaskVotes(ctx, task.ID)
		if err != nil {
			return recorded, fmt.Errorf("votes of task %d:\n%w", task.ID, err)
		}

		for _, vote := range votes {
			if vote.TaskID != task.ID || task.HasVoted(vote.Operator) {
				continue
			}

			_, err := v.store.RecordVote(vote)

			switch {
			case err == nil:
				recorded++
				metrics.LedgerVotes.Inc()

			case errors.Is(err, moderation.ErrDuplicate), errors.Is(err, moderation.ErrTaskFinalized):
				// Recorded by the local submitter, or the task closed meanwhile.

			case errors.Is(err, moderation.ErrUnverifiable):
				// Registered after the last refresh; retried on the next pass.
				logger.Debug("ledger vote not verifiable yet",
					"component", "ingest",
					"task", task.ID,
					"operator", vote.Operator.Short(),
				)

			default:
				return recorded, fmt.Errorf("record vote of task %d:\n%w", task.ID, err)
			}
		}
	}

	return recorded, nil
}
