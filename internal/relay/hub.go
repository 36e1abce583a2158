package relay

import (
	"context"
	"errors"

	"github.com/mossy-p/watchparty-signaling/internal/models"
)

var ErrHubStopped = errors.New("hub stopped")

// Hub runs the relay on a single goroutine. Transport goroutines hand it
// events through channels, so every connect, message and disconnect is
// handled to completion before the next one starts.
type Hub struct {
	relay *Relay

	register   chan Conn
	unregister chan string
	inbound    chan *models.Signal
	queries    chan func(*Relay)
	done       chan struct{}
}

func NewHub(relay *Relay) *Hub {
	return &Hub{
		relay:      relay,
		register:   make(chan Conn),
		unregister: make(chan string),
		inbound:    make(chan *models.Signal),
		queries:    make(chan func(*Relay)),
		done:       make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled. On return every connection
// still registered is closed.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.relay.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			h.relay.HandleConnect(conn)
		case id := <-h.unregister:
			h.relay.HandleDisconnect(id)
		case sig := <-h.inbound:
			h.relay.Handle(sig)
		case fn := <-h.queries:
			fn(h.relay)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register hands a new connection to the hub.
func (h *Hub) Register(conn Conn) error {
	select {
	case h.register <- conn:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister reports a closed connection. Repeated calls are harmless.
func (h *Hub) Unregister(connID string) {
	select {
	case h.unregister <- connID:
	case <-h.done:
	}
}

// Dispatch queues an inbound signal for routing.
func (h *Hub) Dispatch(sig *models.Signal) error {
	select {
	case h.inbound <- sig:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Query runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) Query(ctx context.Context, fn func(*Relay)) error {
	finished := make(chan struct{})
	wrapped := func(r *Relay) {
		defer close(finished)
		fn(r)
	}
	select {
	case h.queries <- wrapped:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// RoomInfo reports a room's occupancy as seen by the hub.
func (h *Hub) RoomInfo(ctx context.Context, roomID string) (info models.RoomInfo, ok bool, err error) {
	err = h.Query(ctx, func(r *Relay) {
		info, ok = r.RoomInfo(roomID)
	})
	return info, ok, err
}
