package registration

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"GuardianScope/internal/logger"
	"GuardianScope/internal/metrics"
	"GuardianScope/internal/moderation"
	"GuardianScope/internal/storage"
	"GuardianScope/internal/wire"
)

// prefixRecord is the storage prefix of operator records.
var prefixRecord = []byte("r:")

// EventKind identifies an observed registration event.
type EventKind uint8

const (
	EventStakeRegistered EventKind = iota + 1
	EventServiceRegistered
	EventDeregistered
)

func (k EventKind) String() string {
	switch k {
	case EventStakeRegistered:
		return "stake_registered"
	case EventServiceRegistered:
		return "service_registered"
	case EventDeregistered:
		return "deregistered"
	default:
		return "unknown"
	}
}

// Event is an external registration event observed for one operator.
type Event struct {
	Kind      EventKind
	PublicKey []byte // PublicKey is the BLS key announced with service registration
}

// StakeRegistered returns the stake registration event.
func StakeRegistered() Event {
	return Event{Kind: EventStakeRegistered}
}

// ServiceRegistered returns the service registration event for a BLS key.
func ServiceRegistered(publicKey []byte) Event {
	return Event{Kind: EventServiceRegistered, PublicKey: publicKey}
}

// Deregistered returns the explicit deregistration event.
func Deregistered() Event {
	return Event{Kind: EventDeregistered}
}

// Advance is the outcome of applying an event.
// Advanced is false when the operator was already at or beyond the event's target.
type Advance struct {
	State    moderation.RegistrationState
	Advanced bool
}

// Record is the tracked state of one operator. Records are never deleted.
type Record struct {
	moderation.Registration
	DeregisteredAt time.Time // DeregisteredAt is set while the operator is inactive
}

// Active reports whether the operator has not been deregistered.
func (r Record) Active() bool {
	return r.DeregisteredAt.IsZero()
}

// Source lists the ledger's registrations.
type Source interface {
	Operators(ctx context.Context) ([]moderation.Registration, error)
}

// Tracker owns every operator's registration state.
type Tracker struct {
	mu      sync.RWMutex
	records map[moderation.OperatorID]*Record // records holds every operator ever observed
	db      *storage.Storage                  // db persists records, nil keeps them in memory
}

// New creates a tracker. db may be nil.
func New(db *storage.Storage) *Tracker {
	return &Tracker{
		records: make(map[moderation.OperatorID]*Record),
		db:      db,
	}
}

// Load restores persisted records.
func (t *Tracker) Load() error {
	if t.db == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.db.IteratePrefix(prefixRecord, func(_, value []byte) error {
		reg, at, err := wire.DecodeOperatorRecord(value)
		if err != nil {
			return err
		}

		t.records[reg.Operator] = &Record{Registration: reg, DeregisteredAt: at}

		return nil
	})
	if err != nil {
		return fmt.Errorf("load registrations:\n%w", err)
	}

	metrics.EligibleOperators.Set(float64(t.eligibleCountLocked()))

	return nil
}

// CurrentState returns op's state, Unregistered when never observed.
func (t *Tracker) CurrentState(op moderation.OperatorID) moderation.RegistrationState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if r, ok := t.records[op]; ok {
		return r.State
	}

	return moderation.Unregistered
}

// Advance applies ev to op. Replaying an event the operator is already at or
// beyond returns Advanced false and no error.
func (t *Tracker) Advance(op moderation.OperatorID, ev Event) (Advance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.advanceLocked(op, ev)
}

func (t *Tracker) advanceLocked(op moderation.OperatorID, ev Event) (Advance, error) {
	r, ok := t.records[op]
	if !ok {
		r = &Record{Registration: moderation.Registration{Operator: op}}
	}

	next := *r

	switch ev.Kind {
	case EventStakeRegistered:
		if r.State >= moderation.StakeRegistered {
			return Advance{State: r.State}, nil
		}
		next.State = moderation.StakeRegistered
		next.DeregisteredAt = time.Time{}

	case EventServiceRegistered:
		if r.State >= moderation.ServiceRegistered {
			return Advance{State: r.State}, nil
		}
		if len(ev.PublicKey) == 0 {
			return Advance{State: r.State}, fmt.Errorf("service registration for %s without public key", op.Short())
		}
		next.State = moderation.ServiceRegistered
		next.PublicKey = append([]byte(nil), ev.PublicKey...)
		next.DeregisteredAt = time.Time{}

	case EventDeregistered:
		if !ok || !r.Active() {
			return Advance{State: r.State}, nil
		}
		next.State = moderation.Unregistered
		next.PublicKey = nil
		next.DeregisteredAt = time.Now().UTC()

	default:
		return Advance{State: r.State}, fmt.Errorf("unknown registration event %d", ev.Kind)
	}

	if t.db != nil {
		key := storage.Key(prefixRecord, op[:])
		if err := t.db.Set(key, wire.EncodeOperatorRecord(next.Registration, next.DeregisteredAt)); err != nil {
			return Advance{State: r.State}, fmt.Errorf("persist registration:\n%w", err)
		}
	}

	t.records[op] = &next

	metrics.RegistrationTransitions.WithLabelValues(next.State.String()).Inc()
	metrics.EligibleOperators.Set(float64(t.eligibleCountLocked()))

	logger.Info("registration advanced",
		"operator", op.Short(),
		"event", ev.Kind,
		"state", next.State,
	)

	return Advance{State: next.State, Advanced: true}, nil
}

// Eligible reports whether op may vote. Queried live on every pipeline pass.
func (t *Tracker) Eligible(op moderation.OperatorID) bool {
	return t.CurrentState(op) == moderation.ServiceRegistered
}

// EligibleCount returns the number of service-registered operators.
func (t *Tracker) EligibleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.eligibleCountLocked()
}

func (t *Tracker) eligibleCountLocked() int {
	n := 0
	for _, r := range t.records {
		if r.State == moderation.ServiceRegistered {
			n++
		}
	}

	return n
}

// PublicKey returns op's registered BLS key, or nil.
func (t *Tracker) PublicKey(op moderation.OperatorID) []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.records[op]
	if !ok || r.PublicKey == nil {
		return nil
	}

	return append([]byte(nil), r.PublicKey...)
}

// Operators returns every record ordered by operator id.
func (t *Tracker) Operators() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		c := *r
		c.PublicKey = append([]byte(nil), r.PublicKey...)
		out = append(out, c)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Operator[:], out[j].Operator[:]) < 0
	})

	return out
}

// Sync reconciles local records with the ledger's view. A ledger state below the
// local one, or a changed key, is applied as a deregistration followed by the
// ledger's state. Operators the ledger does not list are left unchanged.
func (t *Tracker) Sync(ctx context.Context, src Source) (int, error) {
	regs, err := src.Operators(ctx)
	if err != nil {
		return 0, fmt.Errorf("list ledger operators:\n%w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	changed := 0

	for _, reg := range regs {
		n, err := t.reconcileLocked(reg)
		if err != nil {
			return changed, err
		}
		changed += n
	}

	return changed, nil
}

// reconcileLocked drives one operator to the ledger's state and returns the number
// of applied transitions.
func (t *Tracker) reconcileLocked(reg moderation.Registration) (int, error) {
	local := moderation.Unregistered
	var localKey []byte

	if r, ok := t.records[reg.Operator]; ok {
		local = r.State
		localKey = r.PublicKey
	}

	var events []Event

	rekeyed := local == moderation.ServiceRegistered &&
		reg.State == moderation.ServiceRegistered &&
		!bytes.Equal(localKey, reg.PublicKey)

	if reg.State < local || rekeyed {
		events = append(events, Deregistered())
	}

	if reg.State >= moderation.StakeRegistered {
		events = append(events, StakeRegistered())
	}

	if reg.State == moderation.ServiceRegistered {
		events = append(events, ServiceRegistered(reg.PublicKey))
	}

	applied := 0

	for _, ev := range events {
		res, err := t.advanceLocked(reg.Operator, ev)
		if err != nil {
			return applied, err
		}
		if res.Advanced {
			applied++
		}
	}

	return applied, nil
}
