package app

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/adis_imu/internal/imu"
)

// doneToken is an already completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// loopbackClient is an in-memory broker: publishes are delivered to the
// exact-topic subscribers on their own goroutine.
type loopbackClient struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published []published
	pubErr    error
}

func newLoopbackClient() *loopbackClient {
	return &loopbackClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *loopbackClient) IsConnected() bool      { return true }
func (c *loopbackClient) IsConnectionOpen() bool { return true }
func (c *loopbackClient) Connect() mqtt.Token    { return doneToken{} }
func (c *loopbackClient) Disconnect(uint)        {}

func (c *loopbackClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b, _ := payload.([]byte)
	c.mu.Lock()
	c.published = append(c.published, published{topic, qos, retained, b})
	h := c.handlers[topic]
	err := c.pubErr
	c.mu.Unlock()
	if h != nil && err == nil {
		go h(c, fakeMessage{topic: topic, payload: b})
	}
	return doneToken{err: err}
}

func (c *loopbackClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handlers[topic] = callback
	c.mu.Unlock()
	return doneToken{}
}

func (c *loopbackClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic := range filters {
		c.Subscribe(topic, 0, callback)
	}
	return doneToken{}
}

func (c *loopbackClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	c.mu.Unlock()
	return doneToken{}
}

func (c *loopbackClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.Subscribe(topic, 0, callback)
}

func (c *loopbackClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

func (c *loopbackClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

// recordingPublisher keeps every frame in arrival order.
type recordingPublisher struct {
	mu      sync.Mutex
	order   []string
	samples []imu.Sample
	temps   []imu.Temperature
}

func (r *recordingPublisher) PublishIMU(s imu.Sample) {
	r.mu.Lock()
	r.order = append(r.order, "imu")
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

func (r *recordingPublisher) PublishTemperature(t imu.Temperature) {
	r.mu.Lock()
	r.order = append(r.order, "temperature")
	r.temps = append(r.temps, t)
	r.mu.Unlock()
}

func (r *recordingPublisher) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples), len(r.temps)
}

type stubRecalibrator struct {
	res   imu.RecalibrationResult
	calls int
	mu    sync.Mutex
}

func (s *stubRecalibrator) Recalibrate() imu.RecalibrationResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.res
}

// stalledToken never completes, like a publish to a broker that is down.
type stalledToken struct{}

var neverDone = make(chan struct{})

func (stalledToken) Wait() bool                     { return false }
func (stalledToken) WaitTimeout(time.Duration) bool { return false }
func (stalledToken) Error() error                   { return nil }
func (stalledToken) Done() <-chan struct{}          { return neverDone }

// stalledClient accepts publishes but never acknowledges them.
type stalledClient struct {
	*loopbackClient
}

func (c stalledClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	b, _ := payload.([]byte)
	c.mu.Lock()
	c.published = append(c.published, published{topic, qos, retained, b})
	c.mu.Unlock()
	return stalledToken{}
}
