// Package stats is the persistence boundary. Completed-room summaries are
// published to JetStream for the external stats/profile service; the
// coordinator keeps no history of its own.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/dialectica/realtime/internal/room"
)

// Config holds the JetStream publisher settings.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default publisher configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "DEBATE_SUMMARIES",
		SubjectPrefix: "debate.summaries",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher hands completed-room summaries to JetStream.
type Publisher struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg Config
}

var _ room.SummarySink = (*Publisher)(nil)

// NewPublisher connects to NATS and ensures the summary stream exists.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure summary stream: %w", err)
	}

	return &Publisher{nc: nc, js: js, cfg: cfg}, nil
}

// PublishSummary implements room.SummarySink.
func (p *Publisher) PublishSummary(ctx context.Context, s room.Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.cfg.SubjectPrefix, s.RoomID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}

	log.Info().
		Str("room_id", s.RoomID.String()).
		Str("subject", subject).
		Str("status", string(s.Status)).
		Msg("room summary handed off")
	return nil
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
