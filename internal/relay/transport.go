package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/voxlate/voxlate/internal/nats"
)

// Transport moves opaque relay envelopes between devices. Implementations
// must deliver each published message to every subscriber of its subject at
// most once.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe delivers messages on subject to fn until the returned stop
	// function is called.
	Subscribe(subject string, fn func(data []byte)) (stop func(), err error)
}

// NATSTransport is the JetStream-backed transport.
type NATSTransport struct {
	client *inats.Client
	name   string
}

var _ Transport = (*NATSTransport)(nil)

// NewNATSTransport creates a transport. name scopes the durable consumer so
// the requester and responder sides keep separate cursors.
func NewNATSTransport(client *inats.Client, name string) *NATSTransport {
	return &NATSTransport{client: client, name: name}
}

func (t *NATSTransport) Publish(ctx context.Context, subject string, data []byte) error {
	if !t.client.Healthy() {
		return fmt.Errorf("relay transport: %w", ErrUnreachable)
	}
	if _, err := t.client.JetStream().Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("relay transport: %w: %v", ErrUnreachable, err)
	}
	return nil
}

func (t *NATSTransport) Subscribe(subject string, fn func(data []byte)) (func(), error) {
	// The consumer name folds in the subject, so per-instance response
	// subjects get per-instance consumers. InactiveThreshold cleans up the
	// consumer of a replica that went away.
	consumer, err := t.client.JetStream().CreateOrUpdateConsumer(context.Background(), inats.StreamRelay,
		jetstream.ConsumerConfig{
			Durable:           t.name + "-" + consumerSuffix(subject),
			FilterSubject:     subject,
			AckPolicy:         jetstream.AckExplicitPolicy,
			InactiveThreshold: 10 * time.Minute,
		})
	if err != nil {
		return nil, fmt.Errorf("relay transport: ensuring consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		fn(msg.Data())
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("relay transport: consuming %s: %w", subject, err)
	}
	return cc.Stop, nil
}

func consumerSuffix(subject string) string {
	out := make([]byte, 0, len(subject))
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if c == '.' || c == '>' || c == '*' {
			c = '-'
		}
		out = append(out, c)
	}
	return string(out)
}

// MemoryTransport is an in-process Transport for tests and single-node runs.
type MemoryTransport struct {
	mu          sync.Mutex
	subscribers map[string][]func(data []byte)
	down        bool
}

var _ Transport = (*MemoryTransport)(nil)

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subscribers: make(map[string][]func(data []byte))}
}

// SetDown simulates an unreachable transport.
func (t *MemoryTransport) SetDown(down bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.down = down
}

func (t *MemoryTransport) Publish(ctx context.Context, subject string, data []byte) error {
	t.mu.Lock()
	if t.down {
		t.mu.Unlock()
		return fmt.Errorf("relay transport: %w", ErrUnreachable)
	}
	subs := make([]func([]byte), len(t.subscribers[subject]))
	copy(subs, t.subscribers[subject])
	t.mu.Unlock()

	for _, fn := range subs {
		fn(data)
	}
	return nil
}

func (t *MemoryTransport) Subscribe(subject string, fn func(data []byte)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[subject] = append(t.subscribers[subject], fn)
	idx := len(t.subscribers[subject]) - 1
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		subs := t.subscribers[subject]
		if idx < len(subs) {
			subs[idx] = func([]byte) {}
		}
	}, nil
}
