package boundary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

type harness struct {
	t     *testing.T
	host  channel.Endpoint
	done  chan error
	b     *Boundary
	close context.CancelFunc
}

func start(t *testing.T) *harness {
	t.Helper()
	host, remote := channel.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		t:     t,
		host:  host,
		done:  make(chan error, 1),
		b:     New(remote, sandbox.DefaultConfig(), WithMetrics(monitoring.NewMetrics())),
		close: cancel,
	}
	go func() { h.done <- h.b.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = host.Close()
	})
	return h
}

func (h *harness) next() any {
	h.t.Helper()
	select {
	case data, ok := <-h.host.Receive():
		require.True(h.t, ok, "channel closed")
		msg, err := protocol.Decode(data)
		require.NoError(h.t, err)
		return msg
	case <-time.After(10 * time.Second):
		h.t.Fatal("timed out waiting for boundary message")
		return nil
	}
}

func (h *harness) send(msg any) {
	h.t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(h.t, err)
	require.NoError(h.t, h.host.Send(data))
}

func (h *harness) outcome() protocol.Outcome {
	h.t.Helper()
	msg := h.next()
	out, ok := msg.(protocol.Outcome)
	require.True(h.t, ok, "expected outcome, got %T", msg)
	return out
}

func TestBoundarySignalsReadyFirst(t *testing.T) {
	h := start(t)
	assert.Equal(t, protocol.NewReady(), h.next())
}

func TestBoundaryRendersInOrder(t *testing.T) {
	h := start(t)
	require.Equal(t, protocol.NewReady(), h.next())

	h.send(protocol.NewRenderRequest(1, `export default function Hello(){ return <div>Hi</div>; }`))
	h.send(protocol.NewRenderRequest(2, `export default function(`))
	h.send(protocol.NewRenderRequest(3, `function Hello(){ return <div/>; }`))
	h.send(protocol.NewRenderRequest(4, `export default function(){ throw new Error("boom"); }`))

	assert.Equal(t, protocol.Success(1), h.outcome())
	assert.Equal(t, protocol.NewFrame(1, "<div>Hi</div>"), h.next())

	compile := h.outcome()
	assert.Equal(t, int64(2), compile.Sequence)
	assert.False(t, compile.OK)
	assert.Equal(t, protocol.PhaseCompile, compile.Phase)

	assert.Equal(t, protocol.Failure(3, protocol.PhaseMount, "no component export found"), h.outcome())
	assert.Equal(t, protocol.Failure(4, protocol.PhaseRuntime, "boom"), h.outcome())

	// last good render survives the failures
	markup, err := h.b.Engine().Root().HTML()
	require.NoError(t, err)
	assert.Equal(t, "<div>Hi</div>", markup)
}

func TestBoundaryIgnoresForeignMessages(t *testing.T) {
	h := start(t)
	require.Equal(t, protocol.NewReady(), h.next())

	require.NoError(t, h.host.Send([]byte(`not json`)))
	require.NoError(t, h.host.Send([]byte(`{"type":"shutdown"}`)))
	h.send(protocol.NewReady())
	h.send(protocol.Success(9))
	h.send(protocol.NewRenderRequest(1, `export default () => <p>still here</p>;`))

	assert.Equal(t, protocol.Success(1), h.outcome())
	assert.Equal(t, protocol.NewFrame(1, "<p>still here</p>"), h.next())
}

func TestBoundaryStopsWhenChannelCloses(t *testing.T) {
	h := start(t)
	require.Equal(t, protocol.NewReady(), h.next())

	require.NoError(t, h.host.Close())
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("boundary did not stop")
	}
}

func TestBoundaryStopsOnCancel(t *testing.T) {
	h := start(t)
	require.Equal(t, protocol.NewReady(), h.next())

	h.close()
	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("boundary did not stop")
	}
}
