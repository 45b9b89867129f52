package moderation

import "time"

// FailureKind names the failures that surface beyond their owning component.
type FailureKind string

const (
	FailurePersistent   FailureKind = "persistent_failure"
	FailureUnverifiable FailureKind = "unverifiable"
)

// Failure is an operator-attention record for one (task, operator) pair.
type Failure struct {
	Kind     FailureKind `json:"kind"`
	TaskID   TaskID      `json:"taskId"`
	Operator string      `json:"operator"`
	Error    string      `json:"error"`
	At       time.Time   `json:"at"`
}

// VoteView is the read-only projection of a vote.
type VoteView struct {
	Operator  string    `json:"operator"`
	Approve   bool      `json:"approve"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
}

// TaskView is the read-only projection of a task for dashboards.
type TaskView struct {
	ID          TaskID     `json:"id"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"createdAt"`
	Status      string     `json:"status"`
	Decision    string     `json:"decision"`
	Approve     int        `json:"approve"`
	Reject      int        `json:"reject"`
	Eligible    int        `json:"eligible"`
	Threshold   int        `json:"threshold"`
	Votes       []VoteView `json:"votes,omitempty"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`
	Signers     []string   `json:"certificateSigners,omitempty"`
}

// OperatorView is the read-only projection of an operator.
type OperatorView struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	Active    bool    `json:"active"`
	Local     bool    `json:"local"`
	Completed uint64  `json:"completed"`
	Agreed    uint64  `json:"agreed"`
	Accuracy  float64 `json:"accuracy"`
}

// Snapshot is the observability view: task status, tallies and operator stats.
type Snapshot struct {
	GeneratedAt  time.Time      `json:"generatedAt"`
	LastIngested TaskID         `json:"lastIngested"`
	Tasks        []TaskView     `json:"tasks"`
	Operators    []OperatorView `json:"operators"`
	Failures     []Failure      `json:"failures"`
}

// ViewOf projects a task.
func ViewOf(t *Task) TaskView {
	approve, reject := t.Tally()

	v := TaskView{
		ID:        t.ID,
		Content:   string(t.Content),
		CreatedAt: t.CreatedAt,
		Status:    t.Status.String(),
		Decision:  t.Decision.String(),
		Approve:   approve,
		Reject:    reject,
		Eligible:  t.Eligible,
		Threshold: t.Threshold,
	}

	for _, vote := range t.Votes {
		v.Votes = append(v.Votes, VoteView{
			Operator:  vote.Operator.String(),
			Approve:   vote.Approve,
			Timestamp: vote.Timestamp,
			Sequence:  vote.Receipt.Sequence,
		})
	}

	if t.Status == StatusFinalized {
		at := t.FinalizedAt
		v.FinalizedAt = &at
	}

	if t.Certificate != nil {
		for _, s := range t.Certificate.Signers {
			v.Signers = append(v.Signers, s.String())
		}
	}

	return v
}
