// Package wsrelay exposes Database.Observe over websockets.
//
// A client connects, sends one subscribe message
//
//	{"db": "albums", "id": "album-1"}
//
// and then receives every value of the document as a JSON text message, the
// same values Observe yields. Invalid subscriptions and observation errors
// are reported as {"error": "..."} followed by a close frame. Closing the
// socket from the client side stops the observation.
package wsrelay

import (
	"context"
	"errors"
	"net/http"
	"time"

	gorilla "github.com/gorilla/websocket"

	rxcouch "github.com/tangledfruit/rx-couch"
	"github.com/tangledfruit/rx-couch/internal/codec"
	"github.com/tangledfruit/rx-couch/internal/couchurl"
	"github.com/tangledfruit/rx-couch/pkg/logger"
)

const (
	// DefaultSubscribeTimeout bounds how long a new connection may wait
	// before sending its subscribe message.
	DefaultSubscribeTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds each message written to the client.
	DefaultWriteTimeout = 10 * time.Second
)

// Subscribe is the first message a client sends. Fields are left untyped
// so that wrong JSON types can be reported back instead of failing decode.
type Subscribe struct {
	DB any `json:"db"`
	ID any `json:"id"`
}

// ErrorMessage is sent before the relay closes a connection on failure.
type ErrorMessage struct {
	Error string `json:"error"`
}

type Option func(r *Relay)

// Relay is an http.Handler that upgrades requests to websockets and relays
// document observations to them.
type Relay struct {
	server   *rxcouch.Server
	upgrader gorilla.Upgrader
	codec    codec.Codec
	logger   logger.Logger

	subscribeTimeout time.Duration
	writeTimeout     time.Duration
}

func New(server *rxcouch.Server, opts ...Option) *Relay {
	r := &Relay{
		server: server,
		upgrader: gorilla.Upgrader{
			EnableCompression: true,
		},
		codec:            codec.JSON{},
		logger:           logger.Nop(),
		subscribeTimeout: DefaultSubscribeTimeout,
		writeTimeout:     DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func WithLogger(l logger.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

// WithCheckOrigin replaces gorilla's same-origin check.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(r *Relay) {
		r.upgrader.CheckOrigin = fn
	}
}

func WithSubscribeTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.subscribeTimeout = d
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(r *Relay) {
		r.writeTimeout = d
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		r.logger.Debug("websocket upgrade failed", "remote", req.RemoteAddr, "error", err.Error())
		return
	}
	defer conn.Close()

	db, id, err := r.readSubscribe(conn)
	if err != nil {
		r.fail(conn, gorilla.ClosePolicyViolation, err)
		return
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	obs, err := db.Observe(ctx, id)
	if err != nil {
		r.fail(conn, gorilla.ClosePolicyViolation, err)
		return
	}
	defer obs.Close()

	r.logger.Info("relay subscribed", "remote", req.RemoteAddr, "db", db.Name(), "id", id)

	// The client never sends anything after subscribing; reading only
	// notices when it goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for doc := range obs.C() {
		if err := r.write(conn, doc); err != nil {
			r.logger.Debug("relay write failed", "db", db.Name(), "id", id, "error", err.Error())
			return
		}
	}

	if err := obs.Err(); err != nil && ctx.Err() == nil {
		r.fail(conn, gorilla.CloseInternalServerErr, err)
		return
	}
	r.closeNormally(conn)
	r.logger.Info("relay finished", "remote", req.RemoteAddr, "db", db.Name(), "id", id)
}

func (r *Relay) readSubscribe(conn *gorilla.Conn) (*rxcouch.Database, string, error) {
	if r.subscribeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(r.subscribeTimeout)); err != nil {
			return nil, "", err
		}
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, "", err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, "", err
	}

	var msg Subscribe
	if err := r.codec.Unmarshal(data, &msg); err != nil {
		return nil, "", errors.New("invalid subscribe message")
	}
	name, err := couchurl.NameFromAny(msg.DB)
	if err != nil {
		return nil, "", err
	}
	id, ok := msg.ID.(string)
	if !ok || id == "" {
		return nil, "", errors.New("missing document ID")
	}
	db, err := r.server.DB(name)
	if err != nil {
		return nil, "", err
	}
	return db, id, nil
}

func (r *Relay) write(conn *gorilla.Conn, v any) error {
	data, err := r.codec.Marshal(v)
	if err != nil {
		return err
	}
	if r.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(r.writeTimeout)); err != nil {
			return err
		}
	}
	return conn.WriteMessage(gorilla.TextMessage, data)
}

// fail reports err to the client and closes the connection with code.
func (r *Relay) fail(conn *gorilla.Conn, code int, err error) {
	r.logger.Warn("relay closing on error", "remote", conn.RemoteAddr().String(), "error", err.Error())
	if werr := r.write(conn, ErrorMessage{Error: err.Error()}); werr != nil {
		return
	}
	r.sendClose(conn, code, "")
}

func (r *Relay) closeNormally(conn *gorilla.Conn) {
	r.sendClose(conn, gorilla.CloseNormalClosure, "")
}

func (r *Relay) sendClose(conn *gorilla.Conn, code int, text string) {
	timeout := r.writeTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	_ = conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(code, text), time.Now().Add(timeout))
}
