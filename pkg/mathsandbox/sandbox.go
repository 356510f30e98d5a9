// Package mathsandbox evaluates untrusted arithmetic expressions as a
// verification tool. Input is screened against a deny-list, parsed into an
// expression-only syntax tree, walked against an allow-list of node kinds and
// function names, and only then evaluated symbolically under a hard
// wall-clock timeout. Any doubt resolves to an error result.
package mathsandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the outcome branch of an evaluation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the two-branch evaluation outcome. Result is set when Status is
// ok; Message is set when Status is error.
type Result struct {
	Status  Status `json:"status"`
	Result  string `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the evaluation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

var (
	ErrDisallowed  = errors.New("expression contains disallowed content")
	ErrSyntax      = errors.New("expression is not valid syntax")
	ErrUnsupported = errors.New("unsupported expression")
	ErrTimeout     = errors.New("evaluation timed out")
	ErrTooComplex  = errors.New("expression too complex")
)

// Limits bounds the work a single evaluation may perform.
type Limits struct {
	Timeout     time.Duration
	MaxLength   int
	MaxTerms    int
	MaxExponent int
	// MaxBits caps the bit length of any coefficient's numerator or
	// denominator.
	MaxBits int
}

// DefaultLimits returns the limits used by Evaluate.
func DefaultLimits() Limits {
	return Limits{
		Timeout:     2 * time.Second,
		MaxLength:   512,
		MaxTerms:    20000,
		MaxExponent: 64,
		MaxBits:     4096,
	}
}

// Sandbox evaluates expressions under fixed limits. It is safe for
// concurrent use.
type Sandbox struct {
	limits Limits
}

// New creates a Sandbox. Zero-valued limits fall back to DefaultLimits.
func New(limits Limits) *Sandbox {
	d := DefaultLimits()
	if limits.Timeout <= 0 {
		limits.Timeout = d.Timeout
	}
	if limits.MaxLength <= 0 {
		limits.MaxLength = d.MaxLength
	}
	if limits.MaxTerms <= 0 {
		limits.MaxTerms = d.MaxTerms
	}
	if limits.MaxExponent <= 0 {
		limits.MaxExponent = d.MaxExponent
	}
	if limits.MaxBits <= 0 {
		limits.MaxBits = d.MaxBits
	}
	return &Sandbox{limits: limits}
}

var defaultSandbox = New(DefaultLimits())

// Evaluate runs expression through the default sandbox.
func Evaluate(ctx context.Context, expression string) Result {
	return defaultSandbox.Evaluate(ctx, expression)
}

// Evaluate validates and evaluates expression. It never panics and always
// returns within the configured timeout.
func (s *Sandbox) Evaluate(ctx context.Context, expression string) Result {
	if err := screen(expression, s.limits.MaxLength); err != nil {
		return failure(err)
	}

	tree, err := parse(expression)
	if err != nil {
		return failure(err)
	}

	if err := validate(tree); err != nil {
		return failure(err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.limits.Timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failure(fmt.Errorf("%w: %v", ErrUnsupported, r))
			}
		}()

		ev := &evaluator{ctx: ctx, limits: s.limits}
		p, err := ev.eval(tree)
		if err != nil {
			done <- failure(err)
			return
		}
		done <- Result{Status: StatusOK, Result: p.String()}
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return failure(fmt.Errorf("%w after %v", ErrTimeout, s.limits.Timeout))
	}
}

func failure(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = ErrTimeout
	}
	return Result{Status: StatusError, Message: err.Error()}
}
