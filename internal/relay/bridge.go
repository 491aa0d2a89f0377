package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// BridgeConfig holds the JetStream fan-out settings.
type BridgeConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	AckWait       time.Duration
}

// DefaultBridgeConfig returns the default bridge settings.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		URL:           nats.DefaultURL,
		StreamName:    "CANVAS_EVENTS",
		SubjectPrefix: "canvas.rooms",
		MaxReconnects: -1, // infinite
		ReconnectWait: 2 * time.Second,
		AckWait:       30 * time.Second,
	}
}

// bridgeEnvelope wraps a wire frame with its origin so an instance can skip
// its own events when they come back off the stream.
type bridgeEnvelope struct {
	Instance string          `json:"instance"`
	Room     string          `json:"room"`
	SentAt   time.Time       `json:"sentAt"`
	Frame    json.RawMessage `json:"frame"`
}

// Bridge connects relay instances through a JetStream subject per room so a
// room can be served by more than one relayd. Each instance publishes every
// event it accepts and consumes peers' events for local broadcast.
type Bridge struct {
	instanceID string
	nc         *nats.Conn
	js         jetstream.JetStream
	config     BridgeConfig
}

// NewBridge connects to NATS and ensures the stream exists.
func NewBridge(config BridgeConfig) (*Bridge, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &Bridge{
		instanceID: uuid.New().String(),
		nc:         nc,
		js:         js,
		config:     config,
	}
	if err := b.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bridge) ensureStream(ctx context.Context) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      b.config.StreamName,
		Subjects:  []string{b.config.SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
	})
	if err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

// Publish sends one accepted room event to the stream.
func (b *Bridge) Publish(ctx context.Context, room string, frame []byte) error {
	envelope, err := json.Marshal(bridgeEnvelope{
		Instance: b.instanceID,
		Room:     room,
		SentAt:   time.Now(),
		Frame:    frame,
	})
	if err != nil {
		return fmt.Errorf("marshal bridge envelope: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", b.config.SubjectPrefix, room)
	if _, err := b.js.Publish(ctx, subject, envelope); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Consume delivers peers' events to the service until ctx is cancelled.
// Events published by this instance are skipped.
func (b *Bridge) Consume(ctx context.Context, svc *Service) error {
	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.config.StreamName, jetstream.ConsumerConfig{
		Name:          "relay-" + b.instanceID,
		FilterSubject: b.config.SubjectPrefix + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.config.AckWait,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var envelope bridgeEnvelope
		if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed bridge envelope")
			msg.Ack()
			return
		}
		if envelope.Instance != b.instanceID {
			svc.ApplyRemoteEvent(envelope.Room, envelope.Frame)
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().
		Str("instance", b.instanceID).
		Str("stream", b.config.StreamName).
		Msg("bridge consumer started")
	<-ctx.Done()
	return nil
}

// Close tears down the NATS connection.
func (b *Bridge) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
