// canvassim is a headless canvas client: it connects to a relay, drops a
// note, flings it with a synthetic drag, and logs the reaped view while the
// simulation runs. It exercises the full client stack without a renderer.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/config"
	"github.com/emberwall/emberwall/internal/gesture"
	"github.com/emberwall/emberwall/internal/physics"
	"github.com/emberwall/emberwall/internal/session"
	"github.com/emberwall/emberwall/internal/syncer"
)

func main() {
	configPath := flag.String("config", "emberwall.yaml", "path to config file")
	text := flag.String("text", "hello from canvassim", "note text to post")
	ttl := flag.Duration("ttl", 2*time.Minute, "note TTL (0 = never expires)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	endpoint, err := roomURL(cfg.Client.ServerURL, cfg.Client.Room)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid server URL")
	}

	sess := session.New(nil, clock, cfg.Client.TickRate)
	sess.SetCollisionListener(func(ev physics.CollisionEvent) {
		log.Debug().
			Str("body_id", ev.BodyID.String()).
			Float64("speed", ev.Speed).
			Msg("collision")
	})

	chCfg := syncer.DefaultConfig(endpoint)
	chCfg.BackoffBase = cfg.Client.BackoffBase
	chCfg.BackoffCap = cfg.Client.BackoffCap
	channel := syncer.New(chCfg, clock, sess.HandleMessage)
	defer channel.Close()
	sess.SetSender(channel)

	if err := channel.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("initial connect failed, reconnecting in background")
	}

	go sess.Run(ctx)

	// Give the snapshot a moment, then post and fling a note.
	time.Sleep(time.Second)
	id, err := sess.PostMessage(*text, "canvassim", 50, 50, *ttl)
	if err != nil {
		log.Warn().Err(err).Msg("post not delivered, kept locally")
	}
	now := clock.Now()
	if _, err := sess.ThrowObject(id,
		gesture.Point{X: 50, Y: 50}, now.Add(-200*time.Millisecond),
		gesture.Point{X: 62, Y: 44}, now,
	); err != nil {
		log.Warn().Err(err).Msg("throw not delivered, kept locally")
	}

	report := time.NewTicker(2 * time.Second)
	defer report.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-report.C:
			objects, strokes := sess.View()
			log.Info().
				Int("objects", len(objects)).
				Int("strokes", len(strokes)).
				Str("channel", string(channel.State())).
				Msg("canvas view")
			if obj, ok := sess.Object(id); ok && obj.Physics != nil {
				log.Info().
					Float64("x", obj.X).
					Float64("y", obj.Y).
					Bool("bouncing", obj.Physics.Bouncing).
					Msg("thrown note")
			}
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			return
		}
	}
}

// roomURL appends the room query parameter to the websocket endpoint.
func roomURL(base, room string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	q := u.Query()
	q.Set("room", room)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
