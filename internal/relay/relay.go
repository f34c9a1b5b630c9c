// Package relay moves translation requests and responses between a phone
// and a paired companion device over a message transport, with chunked
// payloads and at-most-once response delivery.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxlate/voxlate/internal/metrics"
	inats "github.com/voxlate/voxlate/internal/nats"
)

var (
	// ErrUnreachable means the transport could not accept the message.
	ErrUnreachable = errors.New("relay: transport unreachable")
	// ErrTimeout means no response arrived within the await window.
	ErrTimeout = errors.New("relay: response timed out")
	// ErrUnknownRequest means Await was called for an ID this relay never sent.
	ErrUnknownRequest = errors.New("relay: unknown request")
)

// State tracks one in-flight relayed request.
type State int

const (
	StateSent State = iota
	StateAwaitingResponse
	StateCompleted
	StateTimedOut
)

const (
	// DefaultResponseTimeout bounds Await.
	DefaultResponseTimeout = 30 * time.Second
	// DefaultChunkSize is the ceiling above which payloads are split.
	DefaultChunkSize = 100 * 1024

	sweepInterval = 5 * time.Second
)

// envelope is the wire format. Payloads over the chunk ceiling are split
// into Total sequenced envelopes sharing one RequestID. Reply names the
// per-instance subject the response must go back on, so the instance that
// sent the request is the one that receives the answer.
type envelope struct {
	RequestID string `json:"request_id"`
	Seq       int    `json:"seq"`
	Total     int    `json:"total"`
	Data      []byte `json:"data"`
	Error     string `json:"error,omitempty"`
	Reply     string `json:"reply,omitempty"`
}

type pendingRequest struct {
	state     State
	createdAt time.Time
	respCh    chan result
	asm       *assembler
}

type result struct {
	payload []byte
	err     error
}

// Options tunes a Relay. Zero values use the defaults.
type Options struct {
	ResponseTimeout time.Duration
	ChunkSize       int
}

// Relay correlates sent requests with their responses by request ID. Each
// relay owns a unique response subject; replicas sharing one stream never
// steal each other's responses.
type Relay struct {
	transport   Transport
	timeout     time.Duration
	chunkSize   int
	respSubject string
	now         func() time.Time

	mu        sync.Mutex
	pending   map[string]*pendingRequest
	inbound   map[string]*assembler // responder-side partial requests
	inboundAt map[string]time.Time
}

// New creates a relay over the transport.
func New(transport Transport, opts Options) *Relay {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = DefaultResponseTimeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Relay{
		transport:   transport,
		timeout:     opts.ResponseTimeout,
		chunkSize:   opts.ChunkSize,
		respSubject: inats.SubjectRelayResponses + "." + uuid.New().String(),
		now:         time.Now,
		pending:     make(map[string]*pendingRequest),
		inbound:     make(map[string]*assembler),
		inboundAt:   make(map[string]time.Time),
	}
}

// Start subscribes to this instance's response subject and runs the timeout
// sweep until ctx is cancelled. Needed only on the requester side.
func (r *Relay) Start(ctx context.Context) error {
	stop, err := r.transport.Subscribe(r.respSubject, r.handleResponse)
	if err != nil {
		return fmt.Errorf("subscribing to responses: %w", err)
	}

	go func() {
		defer stop()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireStale()
			}
		}
	}()
	return nil
}

// Send publishes a request payload and registers it for correlation. The
// returned request ID feeds Await.
func (r *Relay) Send(ctx context.Context, payload []byte) (string, error) {
	requestID := uuid.New().String()

	r.mu.Lock()
	r.pending[requestID] = &pendingRequest{
		state:     StateSent,
		createdAt: r.now(),
		respCh:    make(chan result, 1),
		asm:       newAssembler(),
	}
	r.mu.Unlock()

	if err := r.publishChunked(ctx, inats.SubjectRelayRequests, requestID, payload, "", r.respSubject); err != nil {
		r.mu.Lock()
		delete(r.pending, requestID)
		r.mu.Unlock()
		metrics.RelayMessagesTotal.WithLabelValues("unreachable").Inc()
		return "", err
	}

	metrics.RelayMessagesTotal.WithLabelValues("sent").Inc()
	return requestID, nil
}

// Await blocks until the response for requestID arrives, the relay timeout
// passes, or ctx is done. After a timeout the request is marked TimedOut
// and any late response is dropped.
func (r *Relay) Await(ctx context.Context, requestID string) ([]byte, error) {
	r.mu.Lock()
	req, ok := r.pending[requestID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	if req.state == StateSent {
		req.state = StateAwaitingResponse
	}
	deadline := req.createdAt.Add(r.timeout)
	r.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-req.respCh:
		return res.payload, res.err
	case <-timer.C:
		r.timeOut(requestID)
		return nil, ErrTimeout
	case <-ctx.Done():
		r.timeOut(requestID)
		return nil, ctx.Err()
	}
}

// Serve consumes relayed requests, runs handler and publishes the response.
// This is the companion-device side; it blocks until ctx is cancelled.
func (r *Relay) Serve(ctx context.Context, handler func(ctx context.Context, payload []byte) ([]byte, error)) error {
	stop, err := r.transport.Subscribe(inats.SubjectRelayRequests, func(data []byte) {
		r.handleRequest(ctx, data, handler)
	})
	if err != nil {
		return fmt.Errorf("subscribing to requests: %w", err)
	}
	defer stop()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.expireStale()
		}
	}
}

func (r *Relay) handleRequest(ctx context.Context, data []byte, handler func(ctx context.Context, payload []byte) ([]byte, error)) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Error("relay: unmarshaling request envelope", "error", err)
		return
	}

	r.mu.Lock()
	asm, ok := r.inbound[env.RequestID]
	if !ok {
		asm = newAssembler()
		r.inbound[env.RequestID] = asm
		r.inboundAt[env.RequestID] = r.now()
	}
	payload, complete := asm.add(env)
	reply := asm.reply
	if complete {
		delete(r.inbound, env.RequestID)
		delete(r.inboundAt, env.RequestID)
	}
	r.mu.Unlock()

	if !complete {
		return
	}
	if reply == "" {
		slog.Error("relay: request carries no reply subject", "request_id", env.RequestID)
		return
	}

	resp, err := handler(ctx, payload)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		resp = nil
	}
	if err := r.publishChunked(ctx, reply, env.RequestID, resp, errMsg, ""); err != nil {
		slog.Error("relay: publishing response", "request_id", env.RequestID, "error", err)
	}
}

func (r *Relay) handleResponse(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Error("relay: unmarshaling response envelope", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[env.RequestID]
	if !ok || req.state == StateCompleted || req.state == StateTimedOut {
		// Unknown or already-settled request: at-most-once, drop it.
		metrics.RelayMessagesTotal.WithLabelValues("dropped").Inc()
		slog.Debug("relay: dropping late or unknown response", "request_id", env.RequestID)
		return
	}

	payload, complete := req.asm.add(env)
	if !complete {
		return
	}

	req.state = StateCompleted
	delete(r.pending, env.RequestID)
	metrics.RelayMessagesTotal.WithLabelValues("completed").Inc()

	if req.asm.errMsg != "" {
		req.respCh <- result{err: fmt.Errorf("relay: remote error: %s", req.asm.errMsg)}
		return
	}
	req.respCh <- result{payload: payload}
}

func (r *Relay) timeOut(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.pending[requestID]; ok && req.state != StateCompleted {
		req.state = StateTimedOut
		metrics.RelayMessagesTotal.WithLabelValues("timed_out").Inc()
	}
}

// expireStale drops requests past twice the response timeout and abandoned
// partial inbound payloads. Entries marked TimedOut linger one sweep so a
// late response is recognizably dropped rather than resurrected.
func (r *Relay) expireStale() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, req := range r.pending {
		age := now.Sub(req.createdAt)
		if req.state == StateTimedOut && age > 2*r.timeout {
			delete(r.pending, id)
			continue
		}
		if age > r.timeout && req.state != StateTimedOut {
			req.state = StateTimedOut
			metrics.RelayMessagesTotal.WithLabelValues("timed_out").Inc()
			select {
			case req.respCh <- result{err: ErrTimeout}:
			default:
			}
		}
	}

	for id, at := range r.inboundAt {
		if now.Sub(at) > r.timeout {
			delete(r.inbound, id)
			delete(r.inboundAt, id)
			slog.Warn("relay: dropping incomplete request payload", "request_id", id)
		}
	}
}

// publishChunked splits payload into sequenced envelopes of at most
// chunkSize data bytes each. Empty payloads still send one envelope so
// error responses travel. reply, set on requests only, names the subject
// the response comes back on.
func (r *Relay) publishChunked(ctx context.Context, subject, requestID string, payload []byte, errMsg, reply string) error {
	total := (len(payload) + r.chunkSize - 1) / r.chunkSize
	if total == 0 {
		total = 1
	}

	for seq := 0; seq < total; seq++ {
		lo := seq * r.chunkSize
		hi := min(lo+r.chunkSize, len(payload))
		env := envelope{
			RequestID: requestID,
			Seq:       seq,
			Total:     total,
			Data:      payload[lo:hi],
			Reply:     reply,
		}
		if seq == 0 {
			env.Error = errMsg
		}
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshaling envelope: %w", err)
		}
		if err := r.transport.Publish(ctx, subject, data); err != nil {
			return err
		}
	}
	return nil
}

// assembler reassembles sequenced chunks into one payload.
type assembler struct {
	chunks   [][]byte
	received int
	errMsg   string
	reply    string
}

func newAssembler() *assembler {
	return &assembler{}
}

// add records one chunk and returns the full payload once every sequence
// number has arrived. Duplicate chunks are ignored.
func (a *assembler) add(env envelope) ([]byte, bool) {
	if env.Total <= 0 {
		return nil, false
	}
	if a.chunks == nil {
		a.chunks = make([][]byte, env.Total)
	}
	if env.Seq < 0 || env.Seq >= len(a.chunks) || a.chunks[env.Seq] != nil {
		return nil, false
	}
	data := env.Data
	if data == nil {
		data = []byte{}
	}
	a.chunks[env.Seq] = data
	a.received++
	if env.Error != "" {
		a.errMsg = env.Error
	}
	if env.Reply != "" {
		a.reply = env.Reply
	}

	if a.received < len(a.chunks) {
		return nil, false
	}
	var payload []byte
	for _, c := range a.chunks {
		payload = append(payload, c...)
	}
	return payload, true
}
