// ABOUTME: Ordered fallback chain of alternative tactics for one operation
// ABOUTME: Runs strategies in priority order and stops at the first success

package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Result is what a single strategy attempt produced.
type Result struct {
	OK    bool
	Value string
}

// Done is a successful Result without a value.
var Done = Result{OK: true}

// Declined is an unsuccessful Result: the strategy did not apply.
var Declined = Result{}

// Value is a successful Result carrying v.
func Value(v string) Result {
	return Result{OK: true, Value: v}
}

// Strategy is one tactic for accomplishing an operation against the target.
// Strategies hold no state between attempts.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, arg string) (Result, error)
}

// Func adapts a function to the Strategy interface.
type Func struct {
	name string
	fn   func(ctx context.Context, arg string) (Result, error)
}

// NewFunc creates a named Strategy from fn.
func NewFunc(name string, fn func(ctx context.Context, arg string) (Result, error)) Func {
	return Func{name: name, fn: fn}
}

func (f Func) Name() string { return f.name }

func (f Func) Attempt(ctx context.Context, arg string) (Result, error) {
	return f.fn(ctx, arg)
}

// Outcome describes a successful chain run.
type Outcome struct {
	Strategy string
	Value    string
	Attempts int
}

// ExhaustedError reports that every strategy in a chain failed.
type ExhaustedError struct {
	Operation  string
	Diagnostic string
	Failures   []error
}

func (e *ExhaustedError) Error() string {
	return e.Diagnostic
}

// Unwrap exposes the individual strategy failures.
func (e *ExhaustedError) Unwrap() []error {
	return e.Failures
}

// Detail lists every strategy failure on one line.
func (e *ExhaustedError) Detail() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return e.Operation + ": " + strings.Join(parts, "; ")
}

// errDeclined marks a strategy that ran without error but did not apply.
var errDeclined = errors.New("declined")

// Chain is an ordered list of strategies for one operation.
type Chain struct {
	operation  string
	diagnostic string
	strategies []Strategy
	logger     *slog.Logger
}

// NewChain creates a chain. diagnostic is the message reported when every
// strategy fails. Pass nil logger for default.
func NewChain(operation, diagnostic string, logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	if diagnostic == "" {
		diagnostic = fmt.Sprintf("no %s strategy succeeded", operation)
	}
	return &Chain{
		operation:  operation,
		diagnostic: diagnostic,
		strategies: strategies,
		logger:     logger.With("component", "strategy", "operation", operation),
	}
}

// Operation returns the name of the operation this chain performs.
func (c *Chain) Operation() string { return c.operation }

// Len returns the number of strategies in the chain.
func (c *Chain) Len() int { return len(c.strategies) }

// Run attempts each strategy once, in order, until one succeeds. Individual
// failures are not returned unless the whole chain is exhausted, in which
// case the error is an *ExhaustedError.
func (c *Chain) Run(ctx context.Context, arg string) (Outcome, error) {
	failures := make([]error, 0, len(c.strategies))

	for i, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return Outcome{Attempts: i}, err
		}

		res, err := c.attempt(ctx, s, arg)
		if err == nil && res.OK {
			c.logger.Debug("strategy succeeded", "strategy", s.Name(), "attempt", i+1)
			return Outcome{Strategy: s.Name(), Value: res.Value, Attempts: i + 1}, nil
		}
		if err == nil {
			err = errDeclined
		}
		c.logger.Debug("strategy failed", "strategy", s.Name(), "error", err)
		failures = append(failures, fmt.Errorf("%s: %w", s.Name(), err))
	}

	return Outcome{Attempts: len(c.strategies)}, &ExhaustedError{
		Operation:  c.operation,
		Diagnostic: c.diagnostic,
		Failures:   failures,
	}
}

// attempt runs one strategy, converting a panic into a failure so a broken
// tactic cannot take down the chain.
func (c *Chain) attempt(ctx context.Context, s Strategy, arg string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Attempt(ctx, arg)
}
