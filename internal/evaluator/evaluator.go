package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when an evaluation exceeds its deadline.
var ErrTimeout = errors.New("evaluation timed out")

// Evaluator judges content. true approves, false rejects. An error is
// never a judgment: the caller retries later.
type Evaluator interface {
	Evaluate(ctx context.Context, content []byte) (bool, error)
}

// Func adapts a function to Evaluator.
type Func func(ctx context.Context, content []byte) (bool, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, content []byte) (bool, error) {
	return f(ctx, content)
}

// DefaultTerm is the term the keyword evaluator rejects when none is configured.
const DefaultTerm = "inappropriate"

// Keyword rejects content containing any denylisted term, case-insensitively.
type Keyword struct {
	terms [][]byte
}

// NewKeyword creates a keyword evaluator. No terms selects DefaultTerm.
func NewKeyword(terms ...string) *Keyword {
	if len(terms) == 0 {
		terms = []string{DefaultTerm}
	}

	k := &Keyword{}
	for _, term := range terms {
		if term == "" {
			continue
		}
		k.terms = append(k.terms, bytes.ToLower([]byte(term)))
	}

	return k
}

// Evaluate approves content without any denylisted term.
func (k *Keyword) Evaluate(ctx context.Context, content []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lower := bytes.ToLower(content)
	for _, term := range k.terms {
		if bytes.Contains(lower, term) {
			return false, nil
		}
	}

	return true, nil
}

// Timeout bounds each evaluation of the wrapped evaluator.
type Timeout struct {
	Inner   Evaluator
	Timeout time.Duration
}

// Evaluate runs the inner evaluator and gives up after the timeout.
// A late result is discarded.
func (t Timeout) Evaluate(ctx context.Context, content []byte) (bool, error) {
	if t.Timeout <= 0 {
		return t.Inner.Evaluate(ctx, content)
	}

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	type result struct {
		approve bool
		err     error
	}

	done := make(chan result, 1)
	go func() {
		approve, err := t.Inner.Evaluate(ctx, content)
		done <- result{approve, err}
	}()

	select {
	case r := <-done:
		return r.approve, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("%w after %s", ErrTimeout, t.Timeout)
		}
		return false, ctx.Err()
	}
}
