package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/emberwall/emberwall/internal/protocol"
)

// Snapshots are persisted at most once per interval per dirty room.
const persistInterval = 5 * time.Second

// Persister saves and restores room snapshots. Implemented by
// storage.Repository; nil disables persistence.
type Persister interface {
	SaveSnapshot(ctx context.Context, room string, state *protocol.State) error
	LoadSnapshot(ctx context.Context, room string) (*protocol.State, error)
}

// Publisher fans accepted room events out to other relay instances.
// Implemented by Bridge; nil disables cross-instance fan-out.
type Publisher interface {
	Publish(ctx context.Context, room string, data []byte) error
}

// Service is the relay: hub + authoritative rooms + optional persistence and
// cross-instance fan-out.
type Service struct {
	hub   *Hub
	rooms *Rooms

	persister Persister
	publisher Publisher
	clock     clockwork.Clock
}

// NewService assembles a relay service. persister and publisher may be nil.
func NewService(config ConnectionConfig, clock clockwork.Clock, persister Persister, publisher Publisher) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Service{
		persister: persister,
		publisher: publisher,
		clock:     clock,
	}
	s.hub = NewHub(config, s.handleClientFrame)
	s.rooms = NewRooms(clock, s.restoreRoom)
	return s
}

// Start runs the hub and the snapshot persistence loop until ctx cancels.
func (s *Service) Start(ctx context.Context) error {
	go s.hub.Start(ctx)
	if s.persister != nil {
		go s.persistLoop(ctx)
	}
	<-ctx.Done()
	log.Info().Msg("relay service shutting down")
	return nil
}

// Handler returns the HTTP handler with websocket, health and CORS wiring.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

// ApplyRemoteEvent merges an event that originated on another relay instance
// (via the bridge) and broadcasts it to local clients without re-publishing.
func (s *Service) ApplyRemoteEvent(room string, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("room", room).Msg("dropping malformed bridged event")
		return
	}
	out := s.rooms.Get(room).Apply(msg)
	if out == nil {
		return
	}
	encoded, err := protocol.Encode(out)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode bridged broadcast")
		return
	}
	s.hub.Broadcast(room, encoded, nil)
}

// handleClientFrame processes one raw frame from a client connection.
// Malformed or unknown frames are dropped per-message; the connection stays
// alive.
func (s *Service) handleClientFrame(conn *Connection, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Str("room", conn.Room).
			Msg("dropping malformed client message")
		return
	}

	room := s.rooms.Get(conn.Room)

	// The handshake is answered directly with the one-per-connection full
	// snapshot; nothing is broadcast.
	if hello, ok := msg.(*protocol.Hello); ok {
		if hello.ClientID != "" {
			conn.ClientID = hello.ClientID
		}
		snapshot, err := protocol.Encode(room.Snapshot())
		if err != nil {
			log.Error().Err(err).Str("room", conn.Room).Msg("failed to encode snapshot")
			return
		}
		conn.SendDirect(snapshot)
		log.Debug().
			Str("connection_id", conn.ID).
			Str("room", conn.Room).
			Msg("handshake answered with snapshot")
		return
	}

	out := room.Apply(msg)
	if out == nil {
		return
	}
	encoded, err := protocol.Encode(out)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode broadcast")
		return
	}

	// Everyone in the room gets the accepted event, the sender included:
	// clients rely on last-writer-wins overwrite, not on echo suppression.
	s.hub.Broadcast(conn.Room, encoded, nil)

	if s.publisher != nil {
		if err := s.publisher.Publish(context.Background(), conn.Room, encoded); err != nil {
			log.Warn().Err(err).Str("room", conn.Room).Msg("failed to publish event to bridge")
		}
	}
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		room = "lobby"
	}
	clientID := r.URL.Query().Get("client_id")
	if _, err := s.hub.Upgrade(w, r, room, clientID); err != nil {
		log.Error().Err(err).Str("room", room).Msg("failed to upgrade websocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	total, rooms := s.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections": total,
		"rooms":             rooms,
	})
}

// restoreRoom loads persisted state into a freshly created room.
func (s *Service) restoreRoom(room *Room) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := s.persister.LoadSnapshot(ctx, room.Name())
	if err != nil {
		log.Warn().Err(err).Str("room", room.Name()).Msg("failed to load room snapshot")
		return
	}
	if state == nil {
		return
	}
	room.Restore(state)
	log.Info().
		Str("room", room.Name()).
		Int("objects", len(state.Notes)).
		Int("strokes", len(state.Strokes)).
		Msg("room state restored")
}

// persistLoop periodically saves every dirty room.
func (s *Service) persistLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			for _, room := range s.rooms.All() {
				if !room.ConsumeDirty() {
					continue
				}
				saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := s.persister.SaveSnapshot(saveCtx, room.Name(), room.Snapshot())
				cancel()
				if err != nil {
					log.Error().Err(err).Str("room", room.Name()).Msg("failed to persist room snapshot")
				}
			}
		}
	}
}
