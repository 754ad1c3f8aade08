package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/logger"
)

// Executor names for MetaExecutor.
const (
	ExecutorCLI = "cli"
	ExecutorAPI = "api"
)

// exitCommandNotFound is what POSIX shells exit with when a command is missing.
const exitCommandNotFound = 127

// Outcome is what an executor produced.
type Outcome struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor is one way of running the agent.
type Executor interface {
	Name() string
	Run(ctx context.Context) (*Outcome, error)
}

type funcExecutor struct {
	name string
	run  func(context.Context) (*Outcome, error)
}

func (f funcExecutor) Name() string                              { return f.name }
func (f funcExecutor) Run(ctx context.Context) (*Outcome, error) { return f.run(ctx) }

// ExecutorFunc adapts a function to Executor.
func ExecutorFunc(name string, run func(context.Context) (*Outcome, error)) Executor {
	return funcExecutor{name: name, run: run}
}

// Chain tries Preferred and falls back to Fallback when Preferred errors or
// exits non-zero. Cancellation and timeouts never trigger the fallback.
type Chain struct {
	Preferred Executor
	Fallback  Executor
	Log       logger.Logger
}

// ChainResult records which executor produced the outcome.
type ChainResult struct {
	*Outcome
	Executor       string
	FallbackReason string
}

// Run executes the chain.
func (c Chain) Run(ctx context.Context) (*ChainResult, error) {
	log := c.Log
	if log == nil {
		log = logger.Noop()
	}
	if c.Preferred == nil {
		return c.runFallback(ctx, log, "")
	}

	out, err := c.Preferred.Run(ctx)
	if ctx.Err() != nil {
		return nil, ContextError(ctx, c.Preferred.Name()+" executor")
	}
	if err != nil && isContextCode(err) {
		return nil, err
	}
	if err == nil && out.ExitCode == 0 {
		return &ChainResult{Outcome: out, Executor: c.Preferred.Name()}, nil
	}

	reason := failureReason(out, err)
	if c.Fallback == nil {
		if err != nil {
			return nil, err
		}
		return &ChainResult{Outcome: out, Executor: c.Preferred.Name()}, nil
	}
	log.Info("%s executor failed (%s), falling back to %s", c.Preferred.Name(), reason, c.Fallback.Name())
	return c.runFallback(ctx, log, reason)
}

func (c Chain) runFallback(ctx context.Context, log logger.Logger, reason string) (*ChainResult, error) {
	if c.Fallback == nil {
		return nil, errors.New(errors.ErrConfig, "No executor configured", "")
	}
	out, err := c.Fallback.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &ChainResult{Outcome: out, Executor: c.Fallback.Name(), FallbackReason: reason}, nil
}

func failureReason(out *Outcome, err error) string {
	if err != nil {
		return firstLine(errors.As(err).Message)
	}
	if name, ok := CommandNotFound(out.Stderr, out.ExitCode); ok {
		if name != "" {
			return "command not found: " + name
		}
		return "command not found"
	}
	msg := fmt.Sprintf("exit code %d", out.ExitCode)
	if s := firstLine(out.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func isContextCode(err error) bool {
	return errors.IsCode(err, errors.ErrCancelled) || errors.IsCode(err, errors.ErrTimeout)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
