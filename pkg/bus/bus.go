// Package bus provides the in-process message-passing fabric the four
// singleton components (latency monitor, modem pool, failover
// controller, optimizer) use to publish status snapshots (§3
// "Ownership": "cross-component access is via message passing or
// through a small shared ... singleton handle"). It wraps an embedded
// NATS server the same way github.com/helixml/helix's
// api/pkg/pubsub.Nats wraps an external one, except here the server
// never leaves the process: nothing outside this binary needs a
// network-reachable broker, and an out-of-scope external bridge
// (websocket, HTTP) is expected to subscribe in-process via the same
// *Bus handle rather than over the wire.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	// SubjectPipelineStatus carries PipelineStatus snapshots (C6).
	SubjectPipelineStatus = "skylink.pipeline.status"
	// SubjectModemPoolStatus carries modem pool snapshots (C4).
	SubjectModemPoolStatus = "skylink.modempool.status"
	// SubjectFailoverStatus carries failover state snapshots (C5).
	SubjectFailoverStatus = "skylink.failover.status"
	// SubjectOptimizerStatus carries optimizer state snapshots (C3).
	SubjectOptimizerStatus = "skylink.optimizer.status"
	// SubjectLatencyStatus carries per-target latency statistics (C2).
	SubjectLatencyStatus = "skylink.latency.status"
)

// Bus is a handle onto the embedded NATS server and a connected client.
type Bus struct {
	srv  *server.Server
	conn *nats.Conn
}

// New starts an embedded, loopback-only NATS server and connects a
// client to it. The server binds to a random free port so multiple
// instances (e.g. in tests) never collide.
func New() (*Bus, error) {
	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       -1, // random free port
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 4 << 20,
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("start embedded nats server: %w", err)
	}
	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded nats server not ready within 5s")
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats server: %w", err)
	}

	log.Info().Str("url", srv.ClientURL()).Msg("skylink: internal status bus ready")
	return &Bus{srv: srv, conn: conn}, nil
}

// Publish marshals v as JSON and publishes it on subject. Publish errors
// are logged and swallowed: a status broadcast is advisory, never on the
// critical path of a component's own state transition (§6 "Snapshots are
// pure reads ... no side effects").
func (b *Bus) Publish(subject string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("bus: failed to marshal status snapshot")
		return
	}
	if err := b.conn.Publish(subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("bus: failed to publish status snapshot")
	}
}

// Subscribe registers handler for every message on subject. It is a thin
// wrapper used by in-process test harnesses and the (out-of-scope)
// external bridge adapters.
func (b *Bus) Subscribe(subject string, handler func(data []byte)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Close drains the client connection and shuts down the embedded server.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}
