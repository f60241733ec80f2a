package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

const waitFor = 5 * time.Second

// scriptedLauncher hands the boundary end of each pipe to the test
type scriptedLauncher struct {
	remotes chan channel.Endpoint
}

func newScriptedLauncher() *scriptedLauncher {
	return &scriptedLauncher{remotes: make(chan channel.Endpoint, 8)}
}

func (l *scriptedLauncher) Launch(_ context.Context, _ id.SessionID) (channel.Endpoint, error) {
	host, remote := channel.Pipe()
	l.remotes <- remote
	return host, nil
}

type fakeBoundary struct {
	t      *testing.T
	remote channel.Endpoint
}

func (l *scriptedLauncher) boundary(t *testing.T) *fakeBoundary {
	t.Helper()
	select {
	case remote := <-l.remotes:
		return &fakeBoundary{t: t, remote: remote}
	case <-time.After(waitFor):
		t.Fatal("no boundary launched")
		return nil
	}
}

func (b *fakeBoundary) send(msg any) {
	b.t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(b.t, err)
	require.NoError(b.t, b.remote.Send(data))
}

func (b *fakeBoundary) request() protocol.RenderRequest {
	b.t.Helper()
	select {
	case data, ok := <-b.remote.Receive():
		require.True(b.t, ok, "channel closed")
		msg, err := protocol.Decode(data)
		require.NoError(b.t, err)
		req, ok := msg.(protocol.RenderRequest)
		require.True(b.t, ok, "expected render request, got %T", msg)
		return req
	case <-time.After(waitFor):
		b.t.Fatal("no render request received")
		return protocol.RenderRequest{}
	}
}

func (b *fakeBoundary) expectSilence(d time.Duration) {
	b.t.Helper()
	select {
	case data := <-b.remote.Receive():
		b.t.Fatalf("unexpected message: %s", data)
	case <-time.After(d):
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func (r *recorder) has(kind EventKind) bool {
	for _, k := range r.kinds() {
		if k == kind {
			return true
		}
	}
	return false
}

func newScripted(t *testing.T, cfg Config) (*Controller, *scriptedLauncher, *monitoring.Metrics) {
	t.Helper()
	launcher := newScriptedLauncher()
	metrics := monitoring.NewMetrics()
	ctrl := NewController(launcher, cfg).WithMetrics(metrics)
	t.Cleanup(ctrl.Close)
	return ctrl, launcher, metrics
}

func TestSessionBuffersUntilReady(t *testing.T) {
	ctrl, launcher, metrics := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)

	superseded := make(chan error, 1)
	go func() {
		_, err := s.Render(context.Background(), "first")
		superseded <- err
	}()
	require.Eventually(t, func() bool { return s.Info().Sequence == 1 }, waitFor, 5*time.Millisecond)

	seq2, err := s.Send("second")
	require.NoError(t, err)
	seq3, err := s.Send("third")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)
	assert.Equal(t, int64(3), seq3)
	assert.Equal(t, StateInitializing, s.State())

	select {
	case err := <-superseded:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(waitFor):
		t.Fatal("buffered waiter was not released")
	}

	b.expectSilence(50 * time.Millisecond)
	b.send(protocol.NewReady())

	req := b.request()
	assert.Equal(t, int64(3), req.Sequence)
	assert.Equal(t, "third", req.SourceText)
	b.expectSilence(50 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.RendersCoalesced))
}

func TestSessionTransmitsAfterReady(t *testing.T) {
	ctrl, launcher, _ := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	b.send(protocol.NewReady())
	require.Eventually(t, func() bool { return s.State() == StateReady }, waitFor, 5*time.Millisecond)

	seq, err := s.Send("source")
	require.NoError(t, err)
	assert.Equal(t, StateRendering, s.State())
	assert.Equal(t, seq, b.request().Sequence)

	b.send(protocol.Failure(seq, protocol.PhaseCompile, "Unexpected end of file (1:24)"))
	require.Eventually(t, func() bool { return s.State() == StateRenderError }, waitFor, 5*time.Millisecond)

	last, ok := s.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, protocol.PhaseCompile, last.Phase)

	seq, err = s.Send("fixed")
	require.NoError(t, err)
	b.request()
	b.send(protocol.Success(seq))
	b.send(protocol.NewFrame(seq, "<p>ok</p>"))

	require.Eventually(t, func() bool {
		f, ok := s.Frame()
		return ok && f.HTML == "<p>ok</p>"
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, []EventKind{EventReady, EventOutcome, EventOutcome, EventFrame}, rec.kinds())
}

func TestSessionDiscardsStaleOutcomes(t *testing.T) {
	ctrl, launcher, metrics := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)
	b.send(protocol.NewReady())
	require.Eventually(t, func() bool { return s.State() == StateReady }, waitFor, 5*time.Millisecond)

	first := make(chan error, 1)
	go func() {
		_, err := s.Render(context.Background(), "S1")
		first <- err
	}()
	r1 := b.request()

	second := make(chan protocol.Outcome, 1)
	go func() {
		out, err := s.Render(context.Background(), "S2")
		assert.NoError(t, err)
		second <- out
	}()
	r2 := b.request()
	require.Greater(t, r2.Sequence, r1.Sequence)

	// S2 resolves first, S1 arrives late
	b.send(protocol.Success(r2.Sequence))
	b.send(protocol.NewFrame(r2.Sequence, "<p>S2</p>"))
	b.send(protocol.Failure(r1.Sequence, protocol.PhaseRuntime, "late"))
	b.send(protocol.NewFrame(r1.Sequence, "<p>S1</p>"))

	select {
	case out := <-second:
		assert.Equal(t, protocol.Success(r2.Sequence), out)
	case <-time.After(waitFor):
		t.Fatal("S2 waiter not resolved")
	}
	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(waitFor):
		t.Fatal("S1 waiter not released")
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.RendersStale) == 1
	}, waitFor, 5*time.Millisecond)

	last, ok := s.LastOutcome()
	require.True(t, ok)
	assert.Equal(t, r2.Sequence, last.Sequence)
	assert.True(t, last.OK)
	assert.Equal(t, StateReady, s.State())

	frame, ok := s.Frame()
	require.True(t, ok)
	assert.Equal(t, "<p>S2</p>", frame.HTML)
}

func TestSessionRejectsInvalidUTF8(t *testing.T) {
	ctrl, launcher, metrics := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)
	b.send(protocol.NewReady())
	require.Eventually(t, func() bool { return s.State() == StateReady }, waitFor, 5*time.Millisecond)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	out, err := s.Render(context.Background(), "export default () => <div>A\xffB</div>;")
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Equal(t, protocol.PhaseCompile, out.Phase)
	assert.Equal(t, "source text is not valid UTF-8", out.Message)
	assert.Equal(t, StateRenderError, s.State())
	assert.True(t, rec.has(EventOutcome))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RendersTotal.WithLabelValues("error", "compile")))
	b.expectSilence(50 * time.Millisecond)

	seq, err := s.Send("fixed")
	require.NoError(t, err)
	req := b.request()
	assert.Equal(t, seq, req.Sequence)
	assert.Equal(t, "fixed", req.SourceText)
}

func TestSessionInvalidUTF8ReplacesBufferedRequest(t *testing.T) {
	ctrl, launcher, _ := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)

	_, err = s.Send("buffered")
	require.NoError(t, err)
	out, err := s.Render(context.Background(), "\xfe")
	require.NoError(t, err)
	assert.Equal(t, protocol.PhaseCompile, out.Phase)
	assert.Equal(t, StateInitializing, s.State())

	b.send(protocol.NewReady())
	b.expectSilence(50 * time.Millisecond)
	assert.Equal(t, StateReady, s.State())
}

func TestSessionIgnoresUnknownSequences(t *testing.T) {
	ctrl, launcher, _ := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)
	b.send(protocol.NewReady())

	b.send(protocol.Success(42))
	require.NoError(t, b.remote.Send([]byte(`{"type":"bogus"}`)))
	b.send(protocol.NewReady())

	seq, err := s.Send("x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.request().Sequence)
	b.send(protocol.Success(seq))

	require.Eventually(t, func() bool {
		last, ok := s.LastOutcome()
		return ok && last.Sequence == seq
	}, waitFor, 5*time.Millisecond)
}

func TestSessionReadyTimeout(t *testing.T) {
	ctrl, launcher, metrics := newScripted(t, Config{ReadyTimeout: 200 * time.Millisecond})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	_, err = s.Send("optimistic")
	require.NoError(t, err)

	req := b.request()
	assert.Equal(t, "optimistic", req.SourceText)
	require.Eventually(t, func() bool { return rec.has(EventTimeout) }, waitFor, 5*time.Millisecond)

	rec.mu.Lock()
	assert.True(t, errors.Is(rec.events[0].Err, ErrChannelTimeout))
	rec.mu.Unlock()
	assert.True(t, s.Info().Degraded)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReadyTimeouts))

	// later sends go straight through
	_, err = s.Send("direct")
	require.NoError(t, err)
	assert.Equal(t, "direct", b.request().SourceText)

	// a late ready is still honoured
	b.send(protocol.NewReady())
	require.Eventually(t, func() bool { return s.Info().Ready }, waitFor, 5*time.Millisecond)
}

func TestSessionDestroy(t *testing.T) {
	ctrl, launcher, metrics := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)
	b.send(protocol.NewReady())
	require.Eventually(t, func() bool { return s.State() == StateReady }, waitFor, 5*time.Millisecond)

	rec := &recorder{}
	s.Subscribe(rec.listen)

	waiting := make(chan error, 1)
	go func() {
		_, err := s.Render(context.Background(), "never answered")
		waiting <- err
	}()
	b.request()

	s.Destroy()
	s.Destroy()

	select {
	case err := <-waiting:
		assert.ErrorIs(t, err, ErrSessionDestroyed)
	case <-time.After(waitFor):
		t.Fatal("waiter not released on destroy")
	}

	assert.Equal(t, StateDestroyed, s.State())
	_, err = s.Send("after")
	assert.ErrorIs(t, err, ErrSessionDestroyed)

	_, ok := ctrl.Get(s.ID())
	assert.False(t, ok)
	assert.False(t, ctrl.Destroy(s.ID()))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.SessionsActive))

	// the boundary side sees the channel torn down
	select {
	case _, ok := <-b.remote.Receive():
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("boundary channel still open")
	}

	require.Eventually(t, func() bool { return rec.has(EventDestroyed) }, waitFor, 5*time.Millisecond)
	<-s.Done()
}

func TestSessionDestroyedWhenBoundaryGoesAway(t *testing.T) {
	ctrl, launcher, _ := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)
	b.send(protocol.NewReady())

	require.NoError(t, b.remote.Close())
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session outlived its boundary")
	}
	assert.Equal(t, 0, ctrl.Count())
}

func TestSessionRenderHonoursContext(t *testing.T) {
	ctrl, launcher, _ := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	launcher.boundary(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = s.Render(ctx, "pending forever")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "render_error", StateRenderError.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "timeout", EventTimeout.String())

	text, err := StateRendering.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "rendering", string(text))

	var parsed State
	require.NoError(t, parsed.UnmarshalText([]byte("render_error")))
	assert.Equal(t, StateRenderError, parsed)
	assert.Error(t, parsed.UnmarshalText([]byte("paused")))
}

func TestSessionUnsubscribe(t *testing.T) {
	ctrl, launcher, _ := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)

	kept, dropped := &recorder{}, &recorder{}
	s.Subscribe(kept.listen)
	unsubscribe := s.Subscribe(dropped.listen)
	unsubscribe()
	unsubscribe()

	b.send(protocol.NewReady())
	require.Eventually(t, func() bool { return kept.has(EventReady) }, waitFor, 5*time.Millisecond)
	assert.Empty(t, dropped.kinds())
}

func TestSessionRenderFrameSuperseded(t *testing.T) {
	ctrl, launcher, _ := newScripted(t, Config{ReadyTimeout: time.Minute})
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	b := launcher.boundary(t)
	b.send(protocol.NewReady())

	type result struct {
		res Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.RenderFrame(context.Background(), "first")
		done <- result{res, err}
	}()

	first := b.request()
	second, err := s.Send("second")
	require.NoError(t, err)
	assert.Equal(t, second, b.request().Sequence)

	b.send(protocol.Success(first.Sequence))
	b.send(protocol.Success(second))
	b.send(protocol.NewFrame(second, "<p>second</p>"))

	select {
	case r := <-done:
		assert.ErrorIs(t, r.err, ErrSuperseded)
		assert.True(t, r.res.Outcome.OK)
		assert.Empty(t, r.res.HTML)
	case <-time.After(waitFor):
		t.Fatal("RenderFrame did not return")
	}
}
