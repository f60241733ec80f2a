package preview

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/sandbox"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

type reply struct {
	outcome protocol.Outcome
	err     error
}

// Info is a point-in-time view of a session
type Info struct {
	ID          id.SessionID      `json:"id"`
	State       State             `json:"state"`
	Sequence    int64             `json:"sequence"`
	Resolved    int64             `json:"resolved"`
	Ready       bool              `json:"ready"`
	Degraded    bool              `json:"degraded"`
	LastOutcome *protocol.Outcome `json:"last_outcome,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Session is one live preview bound to exactly one isolation boundary
type Session struct {
	id        id.SessionID
	endpoint  channel.Endpoint
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	createdAt time.Time
	onDestroy func(id.SessionID)

	mu        sync.Mutex
	state     State
	allocated int64 // last sequence handed out
	sent      int64 // latest sequence transmitted
	resolved  int64 // highest sequence with an accepted outcome
	ready     bool
	degraded  bool // readiness timed out
	pending   *protocol.RenderRequest
	last      *protocol.Outcome
	frame     *protocol.Frame
	waiters   map[int64]chan reply
	listeners []subscription
	nextSub   int
	timer     *time.Timer

	timeouts    chan struct{}
	done        chan struct{}
	destroyOnce sync.Once
}

func newSession(sid id.SessionID, endpoint channel.Endpoint, logger *zap.Logger, metrics *monitoring.Metrics) *Session {
	return &Session{
		id:        sid,
		endpoint:  endpoint,
		logger:    logger.With(zap.String("session_id", sid.String())),
		metrics:   metrics,
		createdAt: time.Now(),
		state:     StateInitializing,
		waiters:   make(map[int64]chan reply),
		timeouts:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// start arms the readiness timer and runs the session loop
func (s *Session) start(readyTimeout time.Duration) {
	s.mu.Lock()
	if readyTimeout > 0 {
		s.timer = time.AfterFunc(readyTimeout, func() {
			select {
			case s.timeouts <- struct{}{}:
			default:
			}
		})
	}
	s.mu.Unlock()

	go s.loop()
}

// ID returns the session ID
func (s *Session) ID() id.SessionID {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastOutcome returns the most recent accepted outcome
func (s *Session) LastOutcome() (protocol.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return protocol.Outcome{}, false
	}
	return *s.last, true
}

// Frame returns the markup of the latest successful render
func (s *Session) Frame() (protocol.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return protocol.Frame{}, false
	}
	return *s.frame, true
}

// Info snapshots the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:        s.id,
		State:     s.state,
		Sequence:  s.allocated,
		Resolved:  s.resolved,
		Ready:     s.ready,
		Degraded:  s.degraded,
		CreatedAt: s.createdAt,
	}
	if s.last != nil {
		last := *s.last
		info.LastOutcome = &last
	}
	return info
}

// Done is closed once the session is destroyed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

type subscription struct {
	id int
	fn Listener
}

// Subscribe registers a listener for session events. The returned function
// removes it.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub := subscription{id: s.nextSub, fn: l}
	s.listeners = append(s.listeners, sub)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.listeners {
			if existing.id == sub.id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Send submits source for rendering and returns its sequence. It never waits
// for the outcome.
func (s *Session) Send(source string) (int64, error) {
	return s.submit(source, nil)
}

// Render submits source and waits for its outcome. A failed render is not an
// error: inspect the returned outcome. ErrSuperseded is returned when a newer
// request resolved first.
func (s *Session) Render(ctx context.Context, source string) (protocol.Outcome, error) {
	wait := make(chan reply, 1)
	seq, err := s.submit(source, wait)
	if err != nil {
		return protocol.Outcome{}, err
	}

	select {
	case r := <-wait:
		return r.outcome, r.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiters, seq)
		s.mu.Unlock()
		return protocol.Outcome{}, ctx.Err()
	}
}

func (s *Session) submit(source string, wait chan reply) (int64, error) {
	s.mu.Lock()
	seq, rejected, err := s.enqueue(source, wait)
	s.mu.Unlock()

	if rejected != nil {
		s.onOutcome(*rejected)
	}
	return seq, err
}

// enqueue allocates a sequence and transmits or buffers the request. Source
// the wire cannot carry intact is answered locally with a compile failure.
// Caller holds mu.
func (s *Session) enqueue(source string, wait chan reply) (int64, *protocol.Outcome, error) {
	if s.state == StateDestroyed {
		return 0, nil, ErrSessionDestroyed
	}

	s.allocated++
	seq := s.allocated
	if wait != nil {
		s.waiters[seq] = wait
	}

	if !utf8.ValidString(source) {
		s.pending = nil
		if s.ready || s.degraded {
			s.sent = seq
		}
		rejected := protocol.Failure(seq, protocol.PhaseCompile, sandbox.ErrInvalidUTF8.Error())
		return seq, &rejected, nil
	}

	req := protocol.NewRenderRequest(seq, source)

	if !s.ready && !s.degraded {
		if s.pending != nil {
			s.supersede(s.pending.Sequence)
			if s.metrics != nil {
				s.metrics.IncRendersCoalesced()
			}
			s.logger.Debug("Replacing buffered render", zap.Int64("dropped", s.pending.Sequence), zap.Int64("sequence", seq))
		}
		s.pending = &req
		return seq, nil, nil
	}

	if err := s.transmit(req); err != nil {
		delete(s.waiters, seq)
		return 0, nil, err
	}
	return seq, nil, nil
}

// transmit sends req to the boundary. Caller holds mu.
func (s *Session) transmit(req protocol.RenderRequest) error {
	data, err := protocol.Encode(req)
	if err != nil {
		return err
	}
	if err := s.endpoint.Send(data); err != nil {
		return fmt.Errorf("send render %d: %w", req.Sequence, err)
	}
	s.sent = req.Sequence
	s.state = StateRendering
	return nil
}

// flush transmits the buffered request, if any. Caller holds mu.
func (s *Session) flush() {
	if s.pending == nil {
		return
	}
	req := *s.pending
	s.pending = nil
	if err := s.transmit(req); err != nil {
		s.logger.Warn("Failed to flush buffered render", zap.Int64("sequence", req.Sequence), zap.Error(err))
		s.resolveWaiter(req.Sequence, reply{err: err})
	}
}

// supersede fails the waiter for seq with ErrSuperseded. Caller holds mu.
func (s *Session) supersede(seq int64) {
	s.resolveWaiter(seq, reply{err: ErrSuperseded})
}

func (s *Session) resolveWaiter(seq int64, r reply) {
	if wait, ok := s.waiters[seq]; ok {
		wait <- r
		delete(s.waiters, seq)
	}
}

func (s *Session) loop() {
	inbox := s.endpoint.Receive()
	for {
		select {
		case <-s.done:
			s.emit(Event{Kind: EventDestroyed, SessionID: s.id, Err: ErrSessionDestroyed})
			return
		case <-s.timeouts:
			s.onReadyTimeout()
		case data, ok := <-inbox:
			if !ok {
				s.logger.Info("Boundary channel closed")
				s.Destroy()
				inbox = nil
				continue
			}
			s.dispatch(data)
		}
	}
}

func (s *Session) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warn("Dropping undecodable boundary message", zap.Error(err))
		return
	}

	switch m := msg.(type) {
	case protocol.Ready:
		s.onReady()
	case protocol.Outcome:
		s.onOutcome(m)
	case protocol.Frame:
		s.onFrame(m)
	default:
		s.logger.Debug("Ignoring boundary message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *Session) onReady() {
	s.mu.Lock()
	if s.ready || s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.ready = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.state == StateInitializing {
		s.state = StateReady
	}
	s.flush()
	s.mu.Unlock()

	s.logger.Debug("Boundary ready")
	s.emit(Event{Kind: EventReady, SessionID: s.id})
}

func (s *Session) onReadyTimeout() {
	s.mu.Lock()
	if s.ready || s.degraded || s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.degraded = true
	s.flush()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncReadyTimeouts()
	}
	s.logger.Warn("Boundary did not signal readiness, sending optimistically")
	s.emit(Event{Kind: EventTimeout, SessionID: s.id, Err: ErrChannelTimeout})
}

func (s *Session) onOutcome(o protocol.Outcome) {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	if o.Sequence <= s.resolved || o.Sequence > s.allocated {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.IncRendersStale()
		}
		s.logger.Debug("Discarding stale outcome", zap.Int64("sequence", o.Sequence))
		return
	}

	s.resolved = o.Sequence
	outcome := o
	s.last = &outcome
	if o.Sequence == s.sent {
		if o.OK {
			s.state = StateReady
		} else {
			s.state = StateRenderError
		}
	}
	s.resolveWaiter(o.Sequence, reply{outcome: o})
	for seq := range s.waiters {
		if seq < o.Sequence {
			s.supersede(seq)
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRender(o.OK, string(o.Phase))
	}
	if o.OK {
		s.logger.Debug("Render succeeded", zap.Int64("sequence", o.Sequence))
	} else {
		s.logger.Info("Render failed",
			zap.Int64("sequence", o.Sequence),
			zap.String("phase", string(o.Phase)),
			zap.String("message", o.Message))
	}
	s.emit(Event{Kind: EventOutcome, SessionID: s.id, Sequence: o.Sequence, Outcome: &outcome, Err: o.Err()})
}

func (s *Session) onFrame(f protocol.Frame) {
	s.mu.Lock()
	if s.state == StateDestroyed || f.Sequence != s.resolved || s.last == nil || !s.last.OK {
		s.mu.Unlock()
		s.logger.Debug("Discarding stale frame", zap.Int64("sequence", f.Sequence))
		return
	}
	frame := f
	s.frame = &frame
	s.mu.Unlock()

	s.emit(Event{Kind: EventFrame, SessionID: s.id, Sequence: f.Sequence, HTML: f.HTML})
}

func (s *Session) emit(e Event) {
	s.mu.Lock()
	listeners := append([]subscription(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(e)
	}
}

// Destroy tears the session down. Safe to call more than once; pending
// waiters fail with ErrSessionDestroyed.
func (s *Session) Destroy() {
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		s.state = StateDestroyed
		s.pending = nil
		if s.timer != nil {
			s.timer.Stop()
		}
		for seq := range s.waiters {
			s.resolveWaiter(seq, reply{err: ErrSessionDestroyed})
		}
		s.mu.Unlock()

		close(s.done)
		if err := s.endpoint.Close(); err != nil {
			s.logger.Debug("Closing boundary channel", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.SessionDestroyed()
		}
		if s.onDestroy != nil {
			s.onDestroy(s.id)
		}
		s.logger.Debug("Session destroyed")
	})
}
