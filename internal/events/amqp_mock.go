package events

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// MockAMQPDialer implements AMQPDialer for testing. Configure the error
// fields to simulate connection failures at each stage.
type MockAMQPDialer struct {
	Connection *MockAMQPConnection
	DialError  error
}

// Dial returns the configured mock connection or error.
func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	if m.DialError != nil {
		return nil, m.DialError
	}
	if m.Connection == nil {
		m.Connection = NewMockAMQPConnection()
	}
	return m.Connection, nil
}

// MockAMQPConnection implements AMQPConnection for testing.
type MockAMQPConnection struct {
	Chan         *MockAMQPChannel
	ChannelError error
	Closed       bool
}

func NewMockAMQPConnection() *MockAMQPConnection {
	return &MockAMQPConnection{Chan: NewMockAMQPChannel()}
}

func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	if m.ChannelError != nil {
		return nil, m.ChannelError
	}
	return m.Chan, nil
}

func (m *MockAMQPConnection) Close() error {
	m.Closed = true
	return nil
}

// MockAMQPChannel implements AMQPChannel for testing, recording every
// published message.
type MockAMQPChannel struct {
	mu sync.Mutex

	DeclaredQueues []string
	Published      []amqp.Publishing
	PublishError   error
	DeclareError   error
	Closed         bool
}

func NewMockAMQPChannel() *MockAMQPChannel {
	return &MockAMQPChannel{}
}

func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeclareError != nil {
		return amqp.Queue{}, m.DeclareError
	}
	m.DeclaredQueues = append(m.DeclaredQueues, name)
	return amqp.Queue{Name: name}, nil
}

func (m *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishError != nil {
		return m.PublishError
	}
	m.Published = append(m.Published, msg)
	return nil
}

func (m *MockAMQPChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return fmt.Errorf("channel already closed")
	}
	m.Closed = true
	return nil
}

// PublishedMessages returns a snapshot of everything published so far.
func (m *MockAMQPChannel) PublishedMessages() []amqp.Publishing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]amqp.Publishing, len(m.Published))
	copy(out, m.Published)
	return out
}
