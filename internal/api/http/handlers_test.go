package http

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/preview"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/generator"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

const hello = `export default function Hello(){ return <div>Hi</div>; }`

type fakeGenerator struct {
	source string
	err    error
}

func (g *fakeGenerator) Generate(context.Context, string) (string, error) {
	return g.source, g.err
}

func (g *fakeGenerator) BreakerState() resilience.State {
	return resilience.StateClosed
}

type fixture struct {
	router     *gin.Engine
	controller *preview.Controller
}

func newFixture(t *testing.T, cfg preview.Config, opts ...Option) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	controller := preview.NewController(preview.NewLocalLauncher(sandbox.DefaultConfig()), cfg)
	t.Cleanup(controller.Close)

	router := gin.New()
	NewHandlers(controller, opts...).Register(router)
	return &fixture{router: router, controller: controller}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := sonic.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, preview.DefaultConfig())

	rec := f.do(http.MethodPost, "/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	info := decode[preview.Info](t, rec)
	require.True(t, info.ID.Valid())
	path := "/sessions/" + info.ID.String()

	rec = f.do(http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, rec).Count)

	rec = f.do(http.MethodPost, path+"/render", RenderRequest{Source: hello, Wait: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[RenderResponse](t, rec)
	assert.Equal(t, info.ID, res.SessionID)
	assert.Equal(t, protocol.Success(1), res.Outcome)
	assert.Equal(t, "<div>Hi</div>", res.HTML)

	rec = f.do(http.MethodGet, path+"/frame", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<div>Hi</div>", rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Preview-Sequence"))

	rec = f.do(http.MethodPost, path+"/render", RenderRequest{Source: `export default function(`})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(2), decode[struct {
		Sequence int64 `json:"sequence"`
	}](t, rec).Sequence)

	require.Eventually(t, func() bool {
		rec := f.do(http.MethodGet, path, nil)
		return decode[preview.Info](t, rec).State == preview.StateRenderError
	}, 10*time.Second, 10*time.Millisecond)

	rec = f.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return f.do(http.MethodGet, path, nil).Code == http.StatusNotFound
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, path, nil).Code)
}

func TestRenderWaitReportsFailures(t *testing.T) {
	f := newFixture(t, preview.DefaultConfig())
	info := decode[preview.Info](t, f.do(http.MethodPost, "/sessions", nil))

	rec := f.do(http.MethodPost, "/sessions/"+info.ID.String()+"/render",
		RenderRequest{Source: `function Hello(){ return <div/>; }`, Wait: true})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[RenderResponse](t, rec)
	assert.Equal(t, protocol.Failure(1, protocol.PhaseMount, "no component export found"), res.Outcome)
	assert.Empty(t, res.HTML)

	rec = f.do(http.MethodGet, "/sessions/"+info.ID.String()+"/frame", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewSanitizesMarkup(t *testing.T) {
	f := newFixture(t, preview.DefaultConfig())

	rec := f.do(http.MethodPost, "/preview", PreviewRequest{
		Source: `export default () => <div className="card"><a href="javascript:alert(1)">x</a><script>{"alert(1)"}</script></div>;`,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[preview.Result](t, rec)
	assert.True(t, res.Outcome.OK)
	assert.Contains(t, res.HTML, `class="card"`)
	assert.NotContains(t, res.HTML, "javascript:")
	assert.NotContains(t, res.HTML, "<script")

	rec = f.do(http.MethodPost, "/preview", PreviewRequest{Source: `export default function(){ throw new Error("boom"); }`})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, protocol.Failure(1, protocol.PhaseRuntime, "boom"), decode[preview.Result](t, rec).Outcome)
}

func TestSourceLimit(t *testing.T) {
	f := newFixture(t, preview.DefaultConfig(), WithLimits(Limits{MaxSourceBytes: 32}))

	rec := f.do(http.MethodPost, "/preview", PreviewRequest{Source: strings.Repeat("x", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func upload(t *testing.T, f *fixture, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "Hello.tsx")
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/preview/upload", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestUpload(t *testing.T) {
	f := newFixture(t, preview.DefaultConfig())

	rec := upload(t, f, []byte(hello))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "<div>Hi</div>", decode[preview.Result](t, rec).HTML)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	rec = upload(t, f, png)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	latin1 := []byte("export default () => <p>caf\xe9 cr\xe8me br\xfbl\xe9e</p>;")
	rec = upload(t, f, latin1)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/preview/upload", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionLimit(t *testing.T) {
	f := newFixture(t, preview.Config{ReadyTimeout: time.Second, MaxSessions: 1})

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/sessions", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/sessions", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodPost, "/preview", PreviewRequest{Source: hello}).Code)
}

func TestGenerate(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, preview.DefaultConfig())
		rec := f.do(http.MethodPost, "/generate", GenerateRequest{Prompt: "hello"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("returns source", func(t *testing.T) {
		f := newFixture(t, preview.DefaultConfig(), WithGenerator(&fakeGenerator{source: hello}))
		rec := f.do(http.MethodPost, "/generate", GenerateRequest{Prompt: "hello"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, hello, decode[struct {
			Source string `json:"source"`
		}](t, rec).Source)
	})

	t.Run("sends to session", func(t *testing.T) {
		f := newFixture(t, preview.DefaultConfig(), WithGenerator(&fakeGenerator{source: hello}))
		info := decode[preview.Info](t, f.do(http.MethodPost, "/sessions", nil))

		rec := f.do(http.MethodPost, "/generate", GenerateRequest{Prompt: "hello", SessionID: info.ID.String()})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), decode[struct {
			Sequence int64 `json:"sequence"`
		}](t, rec).Sequence)

		session, ok := f.controller.Get(info.ID)
		require.True(t, ok)
		require.Eventually(t, func() bool {
			frame, ok := session.Frame()
			return ok && frame.HTML == "<div>Hi</div>"
		}, 10*time.Second, 10*time.Millisecond)
	})

	tests := []struct {
		name   string
		body   GenerateRequest
		err    error
		status int
	}{
		{"empty prompt", GenerateRequest{Prompt: "  "}, nil, http.StatusBadRequest},
		{"unknown session", GenerateRequest{Prompt: "x", SessionID: "prev_missing"}, nil, http.StatusNotFound},
		{"upstream failure", GenerateRequest{Prompt: "x"}, generator.ErrUpstream, http.StatusBadGateway},
		{"breaker open", GenerateRequest{Prompt: "x"}, generator.ErrUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, preview.DefaultConfig(), WithGenerator(&fakeGenerator{err: tt.err}))
			rec := f.do(http.MethodPost, "/generate", tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics()
	f := newFixture(t, preview.DefaultConfig(), WithMetrics(metrics))

	rec := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "metrics")

	rec = f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errSessionNotFound, http.StatusNotFound},
		{preview.ErrSessionDestroyed, http.StatusConflict},
		{preview.ErrSuperseded, http.StatusConflict},
		{errSourceTooLarge, http.StatusRequestEntityTooLarge},
		{errUnsupportedUpload, http.StatusUnsupportedMediaType},
		{generator.ErrRejected, http.StatusBadGateway},
		{preview.ErrLaunchFailed, http.StatusBadGateway},
		{preview.ErrSessionLimit, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
