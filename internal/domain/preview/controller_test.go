package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/boundary"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

func newLocal(t *testing.T, cfg Config) *Controller {
	t.Helper()
	metrics := monitoring.NewMetrics()
	launcher := NewLocalLauncher(sandbox.DefaultConfig()).WithMetrics(metrics)
	ctrl := NewController(launcher, cfg).WithMetrics(metrics)
	t.Cleanup(ctrl.Close)
	return ctrl
}

func awaitReady(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == StateReady }, 10*time.Second, 5*time.Millisecond)
}

func TestLocalSessionScenarios(t *testing.T) {
	ctrl := newLocal(t, DefaultConfig())
	ctx := context.Background()

	s, err := ctrl.Create(ctx)
	require.NoError(t, err)
	assert.True(t, s.ID().Valid())

	// sent before readiness, buffered and delivered once ready
	out, err := s.Render(ctx, `export default function Hello(){ return <div>Hi</div>; }`)
	require.NoError(t, err)
	assert.Equal(t, protocol.Success(1), out)
	require.Eventually(t, func() bool {
		f, ok := s.Frame()
		return ok && f.HTML == "<div>Hi</div>"
	}, 5*time.Second, 5*time.Millisecond)

	out, err = s.Render(ctx, `export default function(`)
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Equal(t, protocol.PhaseCompile, out.Phase)
	assert.Equal(t, StateRenderError, s.State())

	out, err = s.Render(ctx, `function Hello(){ return <div/>; }`)
	require.NoError(t, err)
	assert.Equal(t, protocol.Failure(3, protocol.PhaseMount, "no component export found"), out)

	out, err = s.Render(ctx, `export default function(){ throw new Error("boom"); }`)
	require.NoError(t, err)
	assert.Equal(t, protocol.Failure(4, protocol.PhaseRuntime, "boom"), out)

	// last good frame is still the one served
	f, ok := s.Frame()
	require.True(t, ok)
	assert.Equal(t, int64(1), f.Sequence)

	out, err = s.Render(ctx, `export default () => <p>recovered</p>;`)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, StateReady, s.State())
}

func TestLocalSessionLatestWins(t *testing.T) {
	ctrl := newLocal(t, DefaultConfig())
	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	awaitReady(t, s)

	_, err = s.Send(`export default () => <p>S1</p>;`)
	require.NoError(t, err)
	seq, err := s.Send(`export default () => <p>S2</p>;`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f, ok := s.Frame()
		return ok && f.Sequence == seq
	}, 10*time.Second, 5*time.Millisecond)
	f, _ := s.Frame()
	assert.Equal(t, "<p>S2</p>", f.HTML)
}

func TestDestroyThenCreate(t *testing.T) {
	ctrl := newLocal(t, DefaultConfig())
	ctx := context.Background()

	first, err := ctrl.Create(ctx)
	require.NoError(t, err)
	awaitReady(t, first)
	assert.True(t, ctrl.Destroy(first.ID()))

	second, err := ctrl.Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	awaitReady(t, second)

	out, err := second.Render(ctx, `export default () => <span>fresh</span>;`)
	require.NoError(t, err)
	assert.Equal(t, protocol.Success(1), out)
	assert.Equal(t, StateDestroyed, first.State())
}

func TestControllerLimitsAndListing(t *testing.T) {
	ctrl, launcher, _ := newScripted(t, Config{ReadyTimeout: time.Minute, MaxSessions: 2})
	ctx := context.Background()

	a, err := ctrl.Create(ctx)
	require.NoError(t, err)
	b, err := ctrl.Create(ctx)
	require.NoError(t, err)
	launcher.boundary(t)
	launcher.boundary(t)

	_, err = ctrl.Create(ctx)
	assert.ErrorIs(t, err, ErrSessionLimit)

	infos := ctrl.List()
	require.Len(t, infos, 2)
	assert.Equal(t, a.ID(), infos[0].ID)
	assert.Equal(t, b.ID(), infos[1].ID)
	assert.Equal(t, StateInitializing, infos[0].State)

	got, ok := ctrl.Get(b.ID())
	require.True(t, ok)
	assert.Same(t, b, got)

	a.Destroy()
	_, err = ctrl.Create(ctx)
	require.NoError(t, err)

	ctrl.Close()
	assert.Equal(t, 0, ctrl.Count())
	_, err = ctrl.Create(ctx)
	assert.ErrorIs(t, err, ErrControllerClosed)
}

type failingLauncher struct{}

func (failingLauncher) Launch(context.Context, id.SessionID) (channel.Endpoint, error) {
	return nil, assert.AnError
}

func TestCreateReportsLaunchFailure(t *testing.T) {
	ctrl := NewController(failingLauncher{}, DefaultConfig())
	_, err := ctrl.Create(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Equal(t, 0, ctrl.Count())
}

func TestRemoteLauncher(t *testing.T) {
	upgrader := websocket.Upgrader{}
	sessions := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessions <- r.Header.Get("X-Preview-Session")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		endpoint := channel.NewWebSocket(conn)
		defer endpoint.Close()
		_ = boundary.New(endpoint, sandbox.DefaultConfig()).Run(r.Context())
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ctrl := NewController(NewRemoteLauncher(url, nil), DefaultConfig())
	defer ctrl.Close()

	s, err := ctrl.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.ID().String(), <-sessions)

	out, err := s.Render(context.Background(), `export default () => <h1>remote</h1>;`)
	require.NoError(t, err)
	assert.Equal(t, protocol.Success(1), out)
	require.Eventually(t, func() bool {
		f, ok := s.Frame()
		return ok && f.HTML == "<h1>remote</h1>"
	}, 10*time.Second, 5*time.Millisecond)
}

func TestRemoteLauncherDialFailure(t *testing.T) {
	ctrl := NewController(NewRemoteLauncher("ws://127.0.0.1:1/ws/boundary", nil), DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ctrl.Create(ctx)
	assert.ErrorIs(t, err, ErrLaunchFailed)
}

func TestControllerPreview(t *testing.T) {
	ctrl := newLocal(t, DefaultConfig())
	ctx := context.Background()

	res, err := ctrl.Preview(ctx, `export default function Hello(){ return <div>Hi</div>; }`)
	require.NoError(t, err)
	assert.True(t, res.Outcome.OK)
	assert.Equal(t, "<div>Hi</div>", res.HTML)

	res, err = ctrl.Preview(ctx, `export default function(`)
	require.NoError(t, err)
	assert.False(t, res.Outcome.OK)
	assert.Equal(t, protocol.PhaseCompile, res.Outcome.Phase)
	assert.Empty(t, res.HTML)

	require.Eventually(t, func() bool { return ctrl.Count() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestControllerPreviewContainsHostileComponents(t *testing.T) {
	ctrl := newLocal(t, DefaultConfig())
	ctx := context.Background()

	res, err := ctrl.Preview(ctx, `
class Odd extends React.Component {
  constructor(props) { super(props); return {}; }
  render() { return <p>never</p>; }
}
export default Odd;`)
	require.NoError(t, err)
	assert.False(t, res.Outcome.OK)
	assert.Equal(t, protocol.PhaseRuntime, res.Outcome.Phase)

	res, err = ctrl.Preview(ctx, "export default function(){ return <div>A\xffB</div>; }")
	require.NoError(t, err)
	assert.False(t, res.Outcome.OK)
	assert.Equal(t, protocol.PhaseCompile, res.Outcome.Phase)
	assert.Empty(t, res.HTML)

	res, err = ctrl.Preview(ctx, `export default () => <p>still up</p>;`)
	require.NoError(t, err)
	assert.Equal(t, "<p>still up</p>", res.HTML)
}

func TestSessionRenderFrameSequential(t *testing.T) {
	ctrl := newLocal(t, DefaultConfig())
	ctx := context.Background()

	s, err := ctrl.Create(ctx)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		res, err := s.RenderFrame(ctx, `export default () => <p>`+text+`</p>;`)
		require.NoError(t, err)
		assert.Equal(t, "<p>"+text+"</p>", res.HTML)
	}
}
