package tasks

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"GuardianScope/internal/moderation"
)

// Quorum sizes the approval threshold from the eligible operator count.
// Count takes precedence over Fraction; the zero value is a simple majority.
type Quorum struct {
	Count    int     // Count is a fixed approval count, clamped to [1, eligible]
	Fraction float64 // Fraction is a share of eligible operators in (0, 1]
}

// Threshold returns the approval count for eligible operators.
func (q Quorum) Threshold(eligible int) int {
	if eligible < 1 {
		eligible = 1
	}

	var t int

	switch {
	case q.Count > 0:
		t = q.Count
	case q.Fraction > 0:
		t = int(math.Ceil(float64(eligible) * q.Fraction))
	default:
		t = eligible/2 + 1
	}

	return min(max(t, 1), eligible)
}

// Validate rejects out-of-range settings.
func (q Quorum) Validate() error {
	if q.Count < 0 {
		return fmt.Errorf("quorum count must not be negative: %d", q.Count)
	}

	if q.Fraction < 0 || q.Fraction > 1 {
		return fmt.Errorf("quorum fraction must be within (0, 1]: %g", q.Fraction)
	}

	return nil
}

// ParseQuorum parses "majority", "count=N" or "fraction=F". A bare integer
// is a count and a bare decimal a fraction.
func ParseQuorum(s string) (Quorum, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	var q Quorum

	switch {
	case s == "" || s == "majority":
		return q, nil
	case strings.HasPrefix(s, "count="):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "count="))
		if err != nil {
			return q, fmt.Errorf("parse quorum count:\n%w", err)
		}
		q.Count = n
	case strings.HasPrefix(s, "fraction="):
		f, err := strconv.ParseFloat(strings.TrimPrefix(s, "fraction="), 64)
		if err != nil {
			return q, fmt.Errorf("parse quorum fraction:\n%w", err)
		}
		q.Fraction = f
	case !strings.Contains(s, "."):
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, fmt.Errorf("unknown quorum policy %q", s)
		}
		q.Count = n
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return q, fmt.Errorf("unknown quorum policy %q", s)
		}
		q.Fraction = f
	}

	if q.Count == 0 && q.Fraction == 0 {
		return q, fmt.Errorf("quorum policy %q selects nothing", s)
	}

	return q, q.Validate()
}

func (q Quorum) String() string {
	switch {
	case q.Count > 0:
		return fmt.Sprintf("count=%d", q.Count)
	case q.Fraction > 0:
		return fmt.Sprintf("fraction=%g", q.Fraction)
	default:
		return "majority"
	}
}

// TieBreak decides a task whose eligible operators all voted without either
// side reaching its bound.
type TieBreak uint8

const (
	TieBreakReject TieBreak = iota
	TieBreakApprove
)

// ParseTieBreak parses "reject" or "approve".
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return TieBreakReject, nil
	case "approve":
		return TieBreakApprove, nil
	default:
		return TieBreakReject, fmt.Errorf("unknown tie-break policy %q", s)
	}
}

func (tb TieBreak) String() string {
	if tb == TieBreakApprove {
		return "approve"
	}

	return "reject"
}

// Decision returns the decision the policy imposes.
func (tb TieBreak) Decision() moderation.Decision {
	if tb == TieBreakApprove {
		return moderation.Approved
	}

	return moderation.Rejected
}

// decide evaluates the quorum condition over t's recorded votes.
func decide(t *moderation.Task, tb TieBreak) (moderation.Decision, bool) {
	approve, reject := t.Tally()

	if approve >= t.Threshold {
		return moderation.Approved, true
	}

	if reject >= t.Eligible-t.Threshold+1 {
		return moderation.Rejected, true
	}

	if approve+reject >= t.Eligible {
		return tb.Decision(), true
	}

	return moderation.Undecided, false
}
