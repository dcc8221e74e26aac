// Package transport implements the WebSocket media-stream protocol a
// telephony provider speaks to this service: connected/start/media/stop
// events inbound, media/clear events outbound, audio as base64-encoded
// mu-law payloads.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Event names used in the inbound/outbound envelope protocol.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventClear     = "clear"
)

// InboundMessage is the envelope shape sent by the telephony provider.
type InboundMessage struct {
	Event string        `json:"event"`
	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Stop  *StopPayload  `json:"stop,omitempty"`
}

// StartPayload carries the stream identifier assigned for this call.
type StartPayload struct {
	StreamSID string `json:"streamSid"`
}

// MediaPayload carries one base64-encoded mu-law audio chunk.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// StopPayload signals the provider ended the stream.
type StopPayload struct {
	StreamSID string `json:"streamSid"`
}

// outboundMedia is the wire shape for a media frame sent to the provider.
type outboundMedia struct {
	Event     string            `json:"event"`
	StreamSID string            `json:"streamSid"`
	Media     outboundMediaBody `json:"media"`
}

type outboundMediaBody struct {
	Payload string `json:"payload"`
}

// outboundClear asks the provider to flush its playback buffer, used for
// barge-in interruption.
type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// ErrConnClosed is returned by Conn methods once the connection has closed.
var ErrConnClosed = errors.New("transport: connection closed")

// Conn wraps one accepted WebSocket connection and exposes the envelope
// protocol as typed reads and writes. It satisfies pacer.Sink.
type Conn struct {
	ws  *websocket.Conn
	ctx context.Context
}

// ReadMessage blocks for the next inbound envelope.
func (c *Conn) ReadMessage(ctx context.Context) (InboundMessage, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return InboundMessage{}, err
	}
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("transport: decode message: %w", err)
	}
	return msg, nil
}

// SendMedia writes one base64-encoded media frame for streamSID.
func (c *Conn) SendMedia(streamSID string, payload string) error {
	return c.writeJSON(outboundMedia{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     outboundMediaBody{Payload: payload},
	})
}

// SendClear asks the far end to discard its buffered playback.
func (c *Conn) SendClear(streamSID string) error {
	return c.writeJSON(outboundClear{Event: EventClear, StreamSID: streamSID})
}

func (c *Conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: encode message: %w", err)
	}
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// Close closes the underlying connection with a normal closure status.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "session ended")
}

// CloseWithError closes the connection reporting an internal error.
func (c *Conn) CloseWithError(reason string) error {
	return c.ws.Close(websocket.StatusInternalError, reason)
}

// Handler is invoked once per accepted connection with a context bound to
// the connection's lifetime and the Conn to read/write on.
type Handler func(ctx context.Context, conn *Conn)

// Server accepts WebSocket connections on an HTTP endpoint and dispatches
// each one to a Handler in its own goroutine.
type Server struct {
	handler            Handler
	insecureSkipVerify bool
}

// Option configures a Server.
type Option func(*Server)

// WithInsecureSkipVerify disables the WebSocket origin check, for local
// development where the telephony provider connects from an arbitrary host.
func WithInsecureSkipVerify() Option {
	return func(s *Server) { s.insecureSkipVerify = true }
}

// NewServer creates a Server that dispatches accepted connections to handler.
func NewServer(handler Handler, opts ...Option) *Server {
	s := &Server{handler: handler}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP implements http.Handler, accepting the WebSocket upgrade and
// running the configured Handler for the connection's lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.insecureSkipVerify,
	})
	if err != nil {
		slog.Error("websocket accept failed", "err", err)
		return
	}

	conn := &Conn{ws: ws, ctx: r.Context()}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "handler returned")
	}()

	s.handler(r.Context(), conn)
}
