package ws

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/preview/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/channel"
	"github.com/GriffinCanCode/AgentOS/preview/internal/shared/protocol"
)

// metered counts messages crossing an endpoint by direction and type
type metered struct {
	channel.Endpoint
	metrics *monitoring.Metrics
	in      chan []byte
	done    chan struct{}
	once    sync.Once
}

func newMetered(ep channel.Endpoint, metrics *monitoring.Metrics) *metered {
	m := &metered{
		Endpoint: ep,
		metrics:  metrics,
		in:       make(chan []byte),
		done:     make(chan struct{}),
	}
	go m.forward()
	return m
}

func (m *metered) forward() {
	defer close(m.in)
	for data := range m.Endpoint.Receive() {
		m.record("in", data)
		select {
		case m.in <- data:
		case <-m.done:
			return
		}
	}
}

func (m *metered) Send(data []byte) error {
	if err := m.Endpoint.Send(data); err != nil {
		return err
	}
	m.record("out", data)
	return nil
}

func (m *metered) Receive() <-chan []byte {
	return m.in
}

func (m *metered) Close() error {
	m.once.Do(func() { close(m.done) })
	return m.Endpoint.Close()
}

func (m *metered) record(direction string, data []byte) {
	if m.metrics == nil {
		return
	}
	typ, err := protocol.Peek(data)
	if err != nil || typ == "" {
		typ = "invalid"
	}
	m.metrics.RecordWSMessage(direction, string(typ))
}
