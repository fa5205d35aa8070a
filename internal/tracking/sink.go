package tracking

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Sink receives run events.
type Sink interface {
	Emit(ctx context.Context, event string, payload map[string]any) error
	Close() error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, string, map[string]any) error { return nil }
func (NopSink) Close() error                                       { return nil }

// SocketIOOptions configures DialSocketIO.
type SocketIOOptions struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// Timeout bounds the connect handshake and, on Close, the wait for
	// outstanding acknowledgements. Zero means 15s.
	Timeout time.Duration
}

// SocketIOSink streams run events to a socket.io tracking server. Every
// event asks the server for an acknowledgement so Close can hold the
// connection open until the last event has been delivered.
type SocketIOSink struct {
	mu      sync.Mutex
	closed  bool
	pending int
	drained chan struct{} // closed when pending drops to zero after Close
	timeout time.Duration

	emit       func(event string, payload map[string]any, ack func())
	disconnect func()
}

// DialSocketIO connects to the tracking server and waits for the namespace
// handshake before returning.
func DialSocketIO(ctx context.Context, opts SocketIOOptions) (*SocketIOSink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", opts.URL)

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tracking URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("tracking URL %q must be absolute", opts.URL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsedURL.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sopts)
	io := manager.Socket(opts.Namespace, sopts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Connected to tracking server", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = fmt.Errorf("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	emit := func(event string, payload map[string]any, ack func()) {
		io.EmitWithAck(event, payload)(func(_ []any, err error) {
			if err != nil {
				logger.Debug("Tracking event not acknowledged", "event", event, "error", err)
			}
			ack()
		})
	}
	return newSocketIOSink(emit, func() { io.Disconnect() }, timeout), nil
}

func newSocketIOSink(emit func(string, map[string]any, func()), disconnect func(), timeout time.Duration) *SocketIOSink {
	return &SocketIOSink{emit: emit, disconnect: disconnect, timeout: timeout}
}

// Emit implements Sink.
func (s *SocketIOSink) Emit(_ context.Context, event string, payload map[string]any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("sink closed")
	}
	s.pending++
	s.mu.Unlock()

	var once sync.Once
	s.emit(event, payload, func() { once.Do(s.acked) })
	return nil
}

func (s *SocketIOSink) acked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if s.pending == 0 && s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
}

// Close waits up to the sink timeout for outstanding acknowledgements, then
// disconnects. Events still unacknowledged at that point may be lost.
func (s *SocketIOSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var drained chan struct{}
	if s.pending > 0 {
		drained = make(chan struct{})
		s.drained = drained
	}
	s.mu.Unlock()

	var err error
	if drained != nil {
		select {
		case <-drained:
		case <-time.After(s.timeout):
			err = fmt.Errorf("timed out after %s waiting for tracking events to be acknowledged", s.timeout)
		}
	}
	s.disconnect()
	return err
}
