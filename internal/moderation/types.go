package moderation

import (
	"encoding/hex"
	"fmt"
	"time"
)

// OperatorID is an operator's ed25519 identity public key.
type OperatorID [32]byte

// String returns the hex encoding of the identity.
func (o OperatorID) String() string {
	return hex.EncodeToString(o[:])
}

// Short returns the first 8 bytes in hex, for log lines.
func (o OperatorID) Short() string {
	return hex.EncodeToString(o[:8])
}

// ParseOperatorID decodes a 64-character hex identity.
func ParseOperatorID(s string) (OperatorID, error) {
	var id OperatorID

	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode operator id:\n%w", err)
	}

	if len(b) != len(id) {
		return id, fmt.Errorf("invalid operator id length: got %d, want %d", len(b), len(id))
	}

	copy(id[:], b)

	return id, nil
}

// TaskID is the monotonic task index assigned by the ledger.
type TaskID uint64

// Status is the lifecycle state of a moderation task.
type Status uint8

const (
	StatusPending Status = iota
	StatusDeciding
	StatusFinalized
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDeciding:
		return "deciding"
	case StatusFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Decision is the final outcome of a task.
type Decision uint8

const (
	Undecided Decision = iota
	Approved
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	default:
		return "undecided"
	}
}

// DecisionOf maps a boolean judgment to a Decision.
func DecisionOf(approve bool) Decision {
	if approve {
		return Approved
	}

	return Rejected
}

// RegistrationState is an operator's participation state. It only increases,
// except through an explicit deregistration.
type RegistrationState uint8

const (
	Unregistered RegistrationState = iota
	StakeRegistered
	ServiceRegistered
)

func (r RegistrationState) String() string {
	switch r {
	case Unregistered:
		return "unregistered"
	case StakeRegistered:
		return "stake_registered"
	case ServiceRegistered:
		return "service_registered"
	default:
		return "unknown"
	}
}

// TaskCreated is the ledger event announcing a new moderation task.
type TaskCreated struct {
	ID        TaskID
	Content   []byte
	CreatedAt time.Time
}

// Attestation is a signed boolean judgment from one operator on one task.
type Attestation struct {
	TaskID    TaskID
	Operator  OperatorID
	Approve   bool
	Signature []byte
	Timestamp time.Time
}

// Receipt is the ledger's confirmation of a submitted attestation.
type Receipt struct {
	TaskID   TaskID
	Operator OperatorID
	TxHash   [32]byte
	Sequence uint64 // Sequence is the per-identity submission sequence number
}

// Vote is an attestation the ledger confirmed.
type Vote struct {
	Attestation
	Receipt Receipt
}

// Registration is the ledger's view of one operator.
type Registration struct {
	Operator  OperatorID
	State     RegistrationState
	PublicKey []byte // PublicKey is the registered BLS verification key
}

// Certificate aggregates the signatures of the winning side of a finalized task.
type Certificate struct {
	Decision  Decision
	Signature []byte
	Signers   []OperatorID
}

// Task is a moderation task and its recorded votes.
type Task struct {
	ID          TaskID
	Content     []byte
	CreatedAt   time.Time
	Status      Status
	Decision    Decision
	Eligible    int // Eligible is the eligible operator count fixed at the first vote
	Threshold   int // Threshold is the approval count fixed at the first vote
	Votes       []Vote
	FinalizedAt time.Time
	Certificate *Certificate
}

// Tally returns the approve and reject counts over the recorded votes.
func (t *Task) Tally() (approve, reject int) {
	for _, v := range t.Votes {
		if v.Approve {
			approve++
		} else {
			reject++
		}
	}

	return approve, reject
}

// HasVoted reports whether op already has a recorded vote.
func (t *Task) HasVoted(op OperatorID) bool {
	for _, v := range t.Votes {
		if v.Operator == op {
			return true
		}
	}

	return false
}

// Clone returns a deep copy safe to hand outside the store.
func (t *Task) Clone() Task {
	c := *t
	c.Content = append([]byte(nil), t.Content...)
	c.Votes = make([]Vote, len(t.Votes))

	for i, v := range t.Votes {
		c.Votes[i] = v
		c.Votes[i].Signature = append([]byte(nil), v.Signature...)
	}

	if t.Certificate != nil {
		cert := *t.Certificate
		cert.Signature = append([]byte(nil), t.Certificate.Signature...)
		cert.Signers = append([]OperatorID(nil), t.Certificate.Signers...)
		c.Certificate = &cert
	}

	return c
}

// OperatorStats are derived participation counters.
type OperatorStats struct {
	Completed uint64 // Completed counts votes on tasks that reached finalization
	Agreed    uint64 // Agreed counts those votes that matched the final decision
}

// Accuracy is the share of completed votes that agreed with the final decision.
func (s OperatorStats) Accuracy() float64 {
	if s.Completed == 0 {
		return 0
	}

	return float64(s.Agreed) / float64(s.Completed)
}
