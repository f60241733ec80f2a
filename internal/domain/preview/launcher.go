package preview

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/boundary"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
)

// Launcher starts an isolation boundary for a session and returns the host
// end of its channel. Closing that endpoint stops the boundary.
type Launcher interface {
	Launch(ctx context.Context, sessionID id.SessionID) (channel.Endpoint, error)
}

// LocalLauncher runs each boundary on its own goroutine behind an
// in-process pipe
type LocalLauncher struct {
	config  sandbox.Config
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewLocalLauncher creates a launcher for in-process boundaries
func NewLocalLauncher(config sandbox.Config) *LocalLauncher {
	return &LocalLauncher{config: config, logger: zap.NewNop()}
}

// WithLogger sets the logger handed to launched boundaries
func (l *LocalLauncher) WithLogger(logger *zap.Logger) *LocalLauncher {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// WithMetrics adds metrics tracking to launched boundaries
func (l *LocalLauncher) WithMetrics(metrics *monitoring.Metrics) *LocalLauncher {
	l.metrics = metrics
	return l
}

// Launch starts a boundary. Its lifetime is bound to the pipe, not ctx,
// because ctx usually belongs to the request that created the session.
func (l *LocalLauncher) Launch(_ context.Context, sessionID id.SessionID) (channel.Endpoint, error) {
	host, remote := channel.Pipe()
	log := l.logger.With(zap.String("session_id", sessionID.String()))

	b := boundary.New(remote, l.config, boundary.WithLogger(log), boundary.WithMetrics(l.metrics))
	go func() {
		defer remote.Close()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Boundary panicked", zap.Any("panic", rec))
			}
		}()
		if err := b.Run(context.Background()); err != nil {
			log.Error("Boundary exited", zap.Error(err))
		}
	}()
	return host, nil
}

// SessionHeader names the session a remote boundary connection serves
const SessionHeader = "X-Preview-Session"

// RemoteLauncher connects each session to a boundary host over WebSocket
type RemoteLauncher struct {
	url    string
	header http.Header
}

// NewRemoteLauncher creates a launcher dialing url (ws:// or wss://)
func NewRemoteLauncher(url string, header http.Header) *RemoteLauncher {
	return &RemoteLauncher{url: url, header: header}
}

// Launch dials a fresh boundary connection
func (r *RemoteLauncher) Launch(ctx context.Context, sessionID id.SessionID) (channel.Endpoint, error) {
	header := r.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(SessionHeader, sessionID.String())
	tracing.Inject(ctx, header)

	ws, err := channel.Dial(ctx, r.url, header)
	if err != nil {
		return nil, err
	}
	return ws, nil
}
