package router

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/rileyhilliard/forkterm/internal/backend"
	"github.com/rileyhilliard/forkterm/internal/errors"
	"github.com/rileyhilliard/forkterm/internal/intent"
	"github.com/rileyhilliard/forkterm/internal/logger"
	"github.com/rileyhilliard/forkterm/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend registers one resource and then does whatever execute says.
type fakeBackend struct {
	kind     request.BackendKind
	agents   map[request.Agent]bool
	execute  func(ctx context.Context, req request.Request) (*request.Result, error)
	released int
	calls    int
	teardown func(ctx context.Context) error
}

func newFake(kind request.BackendKind) *fakeBackend {
	return &fakeBackend{
		kind:   kind,
		agents: map[request.Agent]bool{request.AgentNone: true, request.AgentClaude: true},
		execute: func(context.Context, request.Request) (*request.Result, error) {
			res := request.NewResult()
			res.SetExitCode(0)
			res.Stdout = "ok"
			return res, nil
		},
	}
}

func (f *fakeBackend) Kind() request.BackendKind          { return f.kind }
func (f *fakeBackend) SupportsAgent(a request.Agent) bool { return f.agents[a] }
func (f *fakeBackend) Describe() map[string]string        { return map[string]string{"backend": string(f.kind)} }

func (f *fakeBackend) Execute(ctx context.Context, req request.Request, res *backend.Resources) (*request.Result, error) {
	f.calls++
	res.Add("fake "+string(f.kind), func(ctx context.Context) error {
		f.released++
		if f.teardown != nil {
			return f.teardown(ctx)
		}
		return nil
	})
	return f.execute(ctx, req)
}

func mustRequest(t *testing.T, f request.Fields) request.Request {
	t.Helper()
	req, err := request.New(f)
	require.NoError(t, err)
	return req
}

func TestRun_Success(t *testing.T) {
	tests := []struct {
		name         string
		autoClose    bool
		wantReleased int
	}{
		{name: "interactive leaves resources running", autoClose: false, wantReleased: 0},
		{name: "auto-close tears down", autoClose: true, wantReleased: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFake(request.BackendSandbox)
			r := New([]backend.Backend{fb})

			res := r.Run(context.Background(), mustRequest(t, request.Fields{Backend: request.BackendSandbox, Payload: "ls", AutoClose: tt.autoClose}))
			require.NotNil(t, res)
			assert.True(t, res.Success)
			assert.Nil(t, res.Err)
			assert.Equal(t, "ok", res.Stdout)
			assert.Equal(t, "sandbox", res.Metadata[backend.MetaBackend])
			assert.NotEmpty(t, res.Metadata["duration"])
			assert.Equal(t, tt.wantReleased, fb.released)
		})
	}
}

func TestRun_UnregisteredBackend(t *testing.T) {
	r := New([]backend.Backend{newFake(request.BackendLocal)})
	res := r.Run(context.Background(), mustRequest(t, request.Fields{Backend: request.BackendContainer, Payload: "ls"}))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, errors.ErrConfig, res.ErrorKind())
	assert.Contains(t, res.Err.Suggestion, "local")
}

func TestRun_UnsupportedAgent(t *testing.T) {
	fb := newFake(request.BackendLocal)
	r := New([]backend.Backend{fb})
	res := r.Run(context.Background(), mustRequest(t, request.Fields{Agent: request.AgentGemini, Payload: "hi"}))
	assert.Equal(t, errors.ErrConfig, res.ErrorKind())
	assert.Zero(t, fb.calls)
}

func TestRun_ErrorTearsDown(t *testing.T) {
	fb := newFake(request.BackendSSH)
	fb.execute = func(context.Context, request.Request) (*request.Result, error) {
		return nil, errors.New(errors.ErrConnectivity, "no route to host", "Check the VPN.")
	}
	r := New([]backend.Backend{fb})

	res := r.Run(context.Background(), mustRequest(t, request.Fields{Backend: request.BackendSSH, TargetHost: "dgx", Payload: "ls"}))
	assert.False(t, res.Success)
	assert.Equal(t, errors.ErrConnectivity, res.ErrorKind())
	assert.Equal(t, "Check the VPN.", res.Err.Suggestion)
	assert.Equal(t, 1, fb.released)
}

func TestRun_PlainErrorBecomesExec(t *testing.T) {
	fb := newFake(request.BackendLocal)
	fb.execute = func(context.Context, request.Request) (*request.Result, error) {
		return nil, stderrors.New("boom")
	}
	res := New([]backend.Backend{fb}).Run(context.Background(), mustRequest(t, request.Fields{Payload: "x"}))
	assert.Equal(t, errors.ErrExec, res.ErrorKind())
}

func TestRun_PanicIsRecoveredAndTornDown(t *testing.T) {
	fb := newFake(request.BackendContainer)
	fb.execute = func(context.Context, request.Request) (*request.Result, error) {
		panic("nil map")
	}
	log := logger.NewBufferLogger()
	r := New([]backend.Backend{fb}, WithLogger(log))

	var res *request.Result
	require.NotPanics(t, func() {
		res = r.Run(context.Background(), mustRequest(t, request.Fields{Backend: request.BackendContainer, Payload: "ls"}))
	})
	require.NotNil(t, res)
	assert.Equal(t, errors.ErrExec, res.ErrorKind())
	assert.Contains(t, res.Err.Message, "nil map")
	assert.Equal(t, "container", res.Metadata[backend.MetaBackend])
	assert.Equal(t, 1, fb.released)
	assert.True(t, log.HasLevel("error"))
}

func TestRun_CancellationTearsDownWithFreshContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fb := newFake(request.BackendSandbox)
	fb.execute = func(ctx context.Context, _ request.Request) (*request.Result, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	var teardownErr error
	fb.teardown = func(ctx context.Context) error {
		teardownErr = ctx.Err()
		return nil
	}

	res := New([]backend.Backend{fb}).Run(ctx, mustRequest(t, request.Fields{Backend: request.BackendSandbox, Payload: "sleep 100"}))
	assert.Equal(t, errors.ErrCancelled, res.ErrorKind())
	assert.Equal(t, 1, fb.released)
	assert.NoError(t, teardownErr, "teardown context is not the cancelled one")
}

func TestRun_CancelledButBackendReturnedResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fb := newFake(request.BackendSandbox)
	fb.execute = func(context.Context, request.Request) (*request.Result, error) {
		cancel()
		res := request.NewResult()
		res.SetExitCode(0)
		return res, nil
	}
	res := New([]backend.Backend{fb}).Run(ctx, mustRequest(t, request.Fields{Backend: request.BackendSandbox, Payload: "ls"}))
	assert.Equal(t, errors.ErrCancelled, res.ErrorKind())
	assert.Equal(t, 1, fb.released)
}

func TestRun_Timeout(t *testing.T) {
	fb := newFake(request.BackendLocal)
	fb.execute = func(ctx context.Context, _ request.Request) (*request.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res := New([]backend.Backend{fb}).Run(ctx, mustRequest(t, request.Fields{Payload: "sleep"}))
	assert.Equal(t, errors.ErrTimeout, res.ErrorKind())
}

func TestRun_AlreadyCancelledSkipsBackend(t *testing.T) {
	fb := newFake(request.BackendLocal)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New([]backend.Backend{fb}).Run(ctx, mustRequest(t, request.Fields{Payload: "ls"}))
	assert.Equal(t, errors.ErrCancelled, res.ErrorKind())
	assert.Zero(t, fb.calls)
}

func TestRun_TeardownFailureIsReported(t *testing.T) {
	fb := newFake(request.BackendContainer)
	fb.teardown = func(context.Context) error { return stderrors.New("rm: device busy") }

	res := New([]backend.Backend{fb}).Run(context.Background(),
		mustRequest(t, request.Fields{Backend: request.BackendContainer, Payload: "ls", AutoClose: true}))
	assert.True(t, res.Success, "teardown failure doesn't change the outcome")
	assert.Contains(t, res.Metadata[MetaTeardown], "device busy")
}

func TestDispatch(t *testing.T) {
	sandbox := newFake(request.BackendSandbox)
	var got request.Request
	sandbox.agents[request.AgentGemini] = true
	sandbox.execute = func(_ context.Context, req request.Request) (*request.Result, error) {
		got = req
		res := request.NewResult()
		res.SetExitCode(0)
		return res, nil
	}
	r := New([]backend.Backend{sandbox, newFake(request.BackendLocal)}, WithParser(intent.NewParser()))

	res := r.Dispatch(context.Background(), "fork terminal use gemini in sandbox to summarize data.csv auto-close")
	require.True(t, res.Success)
	assert.Equal(t, request.BackendSandbox, got.Backend())
	assert.Equal(t, request.AgentGemini, got.Agent())
	assert.True(t, got.AutoClose())
	assert.Equal(t, "summarize data.csv", got.Payload())
	assert.Equal(t, 1, sandbox.released)

	res = r.Dispatch(context.Background(), "   ")
	assert.Equal(t, errors.ErrParse, res.ErrorKind())

	res = r.Dispatch(context.Background(), "fork terminal ssh to")
	assert.Equal(t, errors.ErrParse, res.ErrorKind())
}

func TestKinds(t *testing.T) {
	r := New([]backend.Backend{newFake(request.BackendLocal), newFake(request.BackendSSH), newFake(request.BackendSandbox)})
	assert.Equal(t, []request.BackendKind{request.BackendSandbox, request.BackendSSH, request.BackendLocal}, r.Kinds())
	_, ok := r.Backend(request.BackendContainer)
	assert.False(t, ok)
}
