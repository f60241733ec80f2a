package ws

import (
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/preview"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

// Message is what a session stream pushes to the browser
type Message struct {
	Type      string            `json:"type"`
	SessionID id.SessionID      `json:"session_id,omitempty"`
	Sequence  int64             `json:"sequence,omitempty"`
	Outcome   *protocol.Outcome `json:"outcome,omitempty"`
	HTML      string            `json:"html,omitempty"`
	Error     string            `json:"error,omitempty"`
	Session   *preview.Info     `json:"session,omitempty"`
}

type clientMessage struct {
	Type       protocol.Type `json:"type"`
	SourceText string        `json:"sourceText"`
}

func stateMessage(info preview.Info) Message {
	return Message{Type: "state", SessionID: info.ID, Sequence: info.Sequence, Session: &info}
}

func eventMessage(e preview.Event, sanitize func(string) string) Message {
	msg := Message{
		Type:      e.Kind.String(),
		SessionID: e.SessionID,
		Sequence:  e.Sequence,
		Outcome:   e.Outcome,
	}
	if e.HTML != "" {
		msg.HTML = sanitize(e.HTML)
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// subscriber forwards session events to one browser connection
type subscriber struct {
	endpoint channel.Endpoint
	sanitize func(string) string
	logger   *zap.Logger
	gone     chan struct{} // closed after the destroyed event is queued
	goneOnce sync.Once
}

func newSubscriber(endpoint channel.Endpoint, sanitize func(string) string, logger *zap.Logger) *subscriber {
	return &subscriber{
		endpoint: endpoint,
		sanitize: sanitize,
		logger:   logger,
		gone:     make(chan struct{}),
	}
}

// push runs on the session loop; Send only queues
func (s *subscriber) push(e preview.Event) {
	s.send(eventMessage(e, s.sanitize))
	if e.Kind == preview.EventDestroyed {
		s.markGone()
	}
}

func (s *subscriber) markGone() {
	s.goneOnce.Do(func() { close(s.gone) })
}

func (s *subscriber) send(msg Message) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to encode session message", zap.Error(err))
		return
	}
	if err := s.endpoint.Send(data); err != nil {
		s.logger.Debug("Dropping session message", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (s *subscriber) handle(session *preview.Session, data []byte) {
	var msg clientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		s.send(Message{Type: "error", Error: "malformed message"})
		return
	}
	if msg.Type != protocol.TypeRender {
		s.send(Message{Type: "error", Error: "unsupported message type " + string(msg.Type)})
		return
	}

	seq, err := session.Send(msg.SourceText)
	if err != nil {
		s.send(Message{Type: "error", SessionID: session.ID(), Error: err.Error()})
		return
	}
	s.send(Message{Type: "accepted", SessionID: session.ID(), Sequence: seq})
}
