// Package relay routes signaling messages between the members of a room.
package relay

import (
	"encoding/json"
	"errors"

	"github.com/mossy-p/watchparty-signaling/internal/logger"
	"github.com/mossy-p/watchparty-signaling/internal/metrics"
	"github.com/mossy-p/watchparty-signaling/internal/models"
	"github.com/mossy-p/watchparty-signaling/internal/registry"
	"go.uber.org/zap"
)

var log = logger.NewNamed("relay")

// Presence receives membership changes after they are applied. Calls are
// made from the hub goroutine and must not block.
type Presence interface {
	RoomJoined(roomID, connID string)
	RoomLeft(roomID, connID string)
}

type nopPresence struct{}

func (nopPresence) RoomJoined(string, string) {}
func (nopPresence) RoomLeft(string, string)   {}

type handlerFunc func(sig *models.Signal)

// Relay owns the room registry and the session table. It is not safe for
// concurrent use; Hub serializes every call onto one goroutine.
type Relay struct {
	rooms    *registry.Registry
	sessions map[string]*Session
	presence Presence
	metrics  *metrics.Metrics
	handlers map[models.Event]handlerFunc
}

// New builds a Relay. presence may be nil.
func New(rooms *registry.Registry, m *metrics.Metrics, presence Presence) *Relay {
	if presence == nil {
		presence = nopPresence{}
	}
	r := &Relay{
		rooms:    rooms,
		sessions: make(map[string]*Session),
		presence: presence,
		metrics:  m,
	}
	r.handlers = map[models.Event]handlerFunc{
		models.EventJoinRoom: func(sig *models.Signal) {
			r.HandleJoin(sig.From, sig.RoomID)
		},
		models.EventOffer: func(sig *models.Signal) {
			r.RelayOffer(sig.From, sig.RoomID, sig.Payload)
		},
		models.EventAnswer: func(sig *models.Signal) {
			r.RelayAnswer(sig.From, sig.RoomID, sig.Payload)
		},
		models.EventIceCandidate: func(sig *models.Signal) {
			r.RelayIceCandidate(sig.From, sig.RoomID, sig.Payload)
		},
	}
	return r
}

// Handle routes an inbound signal to its handler.
func (r *Relay) Handle(sig *models.Signal) {
	h, ok := r.handlers[sig.Event]
	if !ok {
		log.Warn("no handler for event", zap.String("event", string(sig.Event)), zap.String("connId", sig.From))
		r.metrics.Dropped.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}
	h(sig)
}

// HandleConnect starts a session for a freshly accepted connection.
func (r *Relay) HandleConnect(conn Conn) {
	if _, exists := r.sessions[conn.ID()]; exists {
		log.Warn("duplicate connection id", zap.String("connId", conn.ID()))
		return
	}
	r.sessions[conn.ID()] = &Session{ID: conn.ID(), conn: conn}
	r.metrics.Connections.Inc()
	log.Debug("client connected", zap.String("connId", conn.ID()))
}

// HandleJoin admits senderID to roomID or tells it the room is full.
func (r *Relay) HandleJoin(senderID, roomID string) {
	s, ok := r.sessions[senderID]
	if !ok {
		log.Warn("join from unknown connection", zap.String("connId", senderID))
		return
	}
	if roomID == "" {
		r.metrics.Dropped.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}

	if s.RoomID == roomID {
		r.send(senderID, models.EventJoinedRoom, roomID)
		return
	}

	members, err := r.rooms.Join(roomID, senderID)
	if err != nil {
		if errors.Is(err, registry.ErrRoomFull) {
			log.Info("room full", zap.String("roomId", roomID), zap.String("connId", senderID))
			r.metrics.Joins.WithLabelValues("full").Inc()
			r.send(senderID, models.EventRoomFull, nil)
			return
		}
		log.Error("join failed", zap.String("roomId", roomID), zap.Error(err))
		return
	}

	// The previous room is only left once the new one has admitted us.
	if s.InRoom() {
		r.leave(s)
	}
	s.RoomID = roomID
	r.presence.RoomJoined(roomID, senderID)
	r.metrics.Joins.WithLabelValues("admitted").Inc()
	r.metrics.Rooms.Set(float64(r.rooms.Len()))

	log.Info("joined room",
		zap.String("roomId", roomID),
		zap.String("connId", senderID),
		zap.Int("members", len(members)))

	r.send(senderID, models.EventJoinedRoom, roomID)

	if len(members) == registry.Capacity {
		for _, id := range members {
			r.send(id, models.EventPeerJoined, nil)
		}
	}
}

func (r *Relay) RelayOffer(senderID, roomID string, offer json.RawMessage) {
	r.forward(models.EventOffer, senderID, roomID, offer)
}

func (r *Relay) RelayAnswer(senderID, roomID string, answer json.RawMessage) {
	r.forward(models.EventAnswer, senderID, roomID, answer)
}

func (r *Relay) RelayIceCandidate(senderID, roomID string, candidate json.RawMessage) {
	r.forward(models.EventIceCandidate, senderID, roomID, candidate)
}

// forward delivers payload unchanged to everyone in roomID except the
// sender. Senders outside the room are ignored.
func (r *Relay) forward(event models.Event, senderID, roomID string, payload json.RawMessage) {
	if !r.rooms.Contains(roomID, senderID) {
		log.Debug("dropping signal from non-member",
			zap.String("event", string(event)),
			zap.String("roomId", roomID),
			zap.String("connId", senderID))
		r.metrics.Dropped.WithLabelValues(metrics.ReasonNotMember).Inc()
		return
	}

	for _, id := range r.rooms.MembersExcept(roomID, senderID) {
		if r.send(id, event, payload) {
			r.metrics.Relayed.WithLabelValues(string(event)).Inc()
		}
	}
}

// HandleDisconnect removes the connection from its room and ends its
// session. Unknown connections are ignored.
func (r *Relay) HandleDisconnect(senderID string) {
	s, ok := r.sessions[senderID]
	if !ok {
		return
	}
	if s.InRoom() {
		r.leave(s)
	}
	delete(r.sessions, senderID)
	s.conn.Close()
	r.metrics.Connections.Dec()
	log.Debug("client disconnected", zap.String("connId", senderID))
}

func (r *Relay) leave(s *Session) {
	roomID := s.RoomID
	remaining, removed := r.rooms.Leave(roomID, s.ID)
	s.RoomID = ""
	if !removed {
		return
	}
	r.presence.RoomLeft(roomID, s.ID)
	r.metrics.Rooms.Set(float64(r.rooms.Len()))

	if len(remaining) == 0 {
		log.Info("room removed", zap.String("roomId", roomID))
		return
	}
	log.Info("peer left room", zap.String("roomId", roomID), zap.String("connId", s.ID))
	for _, id := range remaining {
		r.send(id, models.EventPeerDisconnected, nil)
	}
}

// RoomInfo reports the occupancy of roomID. ok is false for rooms that do
// not exist.
func (r *Relay) RoomInfo(roomID string) (info models.RoomInfo, ok bool) {
	if !r.rooms.Exists(roomID) {
		return models.RoomInfo{}, false
	}
	n := r.rooms.Size(roomID)
	return models.RoomInfo{
		ID:       roomID,
		Members:  n,
		Capacity: registry.Capacity,
		Full:     n >= registry.Capacity,
	}, true
}

// Session returns a copy of the session state for connID.
func (r *Relay) Session(connID string) (Session, bool) {
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return Session{ID: s.ID, RoomID: s.RoomID}, true
}

// closeAll ends delivery to every connection and clears the registry
// without notifying peers. Used on shutdown.
func (r *Relay) closeAll() {
	for id, s := range r.sessions {
		if s.InRoom() {
			if _, removed := r.rooms.Leave(s.RoomID, s.ID); removed {
				r.presence.RoomLeft(s.RoomID, s.ID)
			}
			s.RoomID = ""
		}
		s.conn.Close()
		delete(r.sessions, id)
	}
	r.metrics.Connections.Set(0)
	r.metrics.Rooms.Set(float64(r.rooms.Len()))
}

func (r *Relay) send(connID string, event models.Event, data any) bool {
	s, ok := r.sessions[connID]
	if !ok {
		return false
	}
	env, err := models.NewEnvelope(event, data)
	if err != nil {
		log.Error("failed to build message", zap.String("event", string(event)), zap.Error(err))
		return false
	}
	if !s.conn.Send(env) {
		log.Warn("send buffer full, dropping message",
			zap.String("event", string(event)),
			zap.String("connId", connID))
		r.metrics.Dropped.WithLabelValues(metrics.ReasonBufferFull).Inc()
		return false
	}
	return true
}
