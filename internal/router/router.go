// Package router dispatches parsed requests to their backend and guarantees
// that every invocation ends in a Result, with teardown run when it must be.
package router

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/rileyhilliard/forkterm/internal/backend"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/rileyhilliard/forkterm/internal/util"
)

// DefaultTeardownTimeout bounds releasing one invocation's resources.
const DefaultTeardownTimeout = 30 * time.Second

// MetaTeardown reports teardown problems. Failures there never change the
// invocation's outcome.
const MetaTeardown = "teardown"

// Parser turns intent text into a request. *intent.Parser implements it.
type Parser interface {
	Parse(text string) (request.Request, error)
}

// Router holds the registered backends.
type Router struct {
	backends        map[request.BackendKind]backend.Backend
	parser          Parser
	teardownTimeout time.Duration
	log             logger.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithParser sets the parser used by Dispatch.
func WithParser(p Parser) Option {
	return func(r *Router) { r.parser = p }
}

// WithTeardownTimeout bounds teardown.
func WithTeardownTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.teardownTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates a router serving the given backends. A later backend of the
// same kind replaces an earlier one.
func New(backends []backend.Backend, opts ...Option) *Router {
	r := &Router{
		backends:        make(map[request.BackendKind]backend.Backend),
		teardownTimeout: DefaultTeardownTimeout,
		log:             logger.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register adds or replaces the backend for its kind.
func (r *Router) Register(b backend.Backend) {
	r.backends[b.Kind()] = b
}

// Backend returns the backend registered for kind.
func (r *Router) Backend(kind request.BackendKind) (backend.Backend, bool) {
	b, ok := r.backends[kind]
	return b, ok
}

// Kinds returns the registered backend kinds in priority order.
func (r *Router) Kinds() []request.BackendKind {
	var out []request.BackendKind
	for _, k := range request.AllBackends {
		if _, ok := r.backends[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Dispatch parses text and runs the resulting request.
func (r *Router) Dispatch(ctx context.Context, text string) *request.Result {
	if r.parser == nil {
		return request.Failed(errors.New(errors.ErrConfig, "Router has no parser", ""))
	}
	req, err := r.parser.Parse(text)
	if err != nil {
		return request.Failed(translate(ctx, err))
	}
	return r.Run(ctx, req)
}

// Run executes req on its backend. It never returns nil. Resources the
// backend registered are released when auto-close is set, when execution
// fails or is cancelled, and when the backend panics.
func (r *Router) Run(ctx context.Context, req request.Request) (result *request.Result) {
	b, ok := r.backends[req.Backend()]
	if !ok {
		return request.Failed(errors.New(errors.ErrConfig,
			fmt.Sprintf("The %s backend isn't available", req.Backend()),
			fmt.Sprintf("Available backends: %s.", r.kindList())))
	}
	if !b.SupportsAgent(req.Agent()) {
		return request.Failed(errors.New(errors.ErrConfig,
			fmt.Sprintf("The %s backend can't run %s", req.Backend(), req.Agent()),
			"Pick a different backend or agent."))
	}
	if err := ctx.Err(); err != nil {
		return request.Failed(backend.ContextError(ctx, "Request"))
	}

	res := backend.NewResources(r.log)
	start := time.Now()
	r.log.Debug("dispatching %s", req)

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("%s backend panicked: %v\n%s", req.Backend(), p, debug.Stack())
			result = request.Failed(errors.New(errors.ErrExec,
				fmt.Sprintf("The %s backend crashed: %v", req.Backend(), p),
				"This is a bug. Run with FORK_DEBUG=1 and report the output."))
			r.teardown(ctx, res, result)
		}
		result.Meta(backend.MetaBackend, string(req.Backend()))
		result.Meta("duration", time.Since(start).Round(time.Millisecond).String())
	}()

	out, err := b.Execute(ctx, req, res)
	if err == nil && ctx.Err() != nil {
		err = backend.ContextError(ctx, "Request")
	}
	if err == nil && out == nil {
		err = errors.New(errors.ErrExec, fmt.Sprintf("The %s backend returned no result", req.Backend()), "")
	}

	if err != nil {
		result = request.Failed(translate(ctx, err))
		if out != nil {
			// Keep whatever the backend gathered before failing.
			for k, v := range out.Metadata {
				result.Meta(k, v)
			}
		}
		r.teardown(ctx, res, result)
		return result
	}

	result = out
	result.Err = nil
	if result.Metadata == nil {
		result.Metadata = make(map[string]string)
	}
	if req.AutoClose() {
		r.teardown(ctx, res, result)
	} else if res.Len() > 0 {
		r.log.Debug("leaving %d resource(s) running: %v", res.Len(), res.Names())
	}
	return result
}

// teardown releases res with a fresh context so it still runs after ctx
// was cancelled.
func (r *Router) teardown(ctx context.Context, res *backend.Resources, result *request.Result) {
	if res.Len() == 0 {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.teardownTimeout)
	defer cancel()
	if errs := res.Release(tctx); len(errs) > 0 {
		result.Meta(MetaTeardown, fmt.Sprintf("%d resource(s) failed to release: %v", len(errs), stderrors.Join(errs...)))
	}
}

func (r *Router) kindList() string {
	kinds := r.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	sort.Strings(names)
	return util.JoinOrNone(names)
}

// translate maps any error into the taxonomy. Bare context errors become
// CANCELLED or TIMEOUT; anything else unclassified is EXEC.
func translate(ctx context.Context, err error) *errors.Error {
	var fe *errors.Error
	if stderrors.As(err, &fe) {
		return fe
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return errors.WrapWithCode(err, errors.ErrCancelled, "Request was cancelled", "")
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.WrapWithCode(err, errors.ErrTimeout, "Request timed out", "Raise the timeout in the config file if the task needs longer.")
	}
	if ctx.Err() != nil {
		return backend.ContextError(ctx, "Request")
	}
	return errors.Wrap(err, "Execution failed")
}
