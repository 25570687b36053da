package service

import (
	"sort"
	"sync"

	"github.com/punchamoorthee/transferval/internal/transport"
)

// Session is one connected cashier or admin as the hub sees it.
type Session interface {
	ID() string
	Rol() string
	Nombre() string
	// Send queues msg for delivery; it must not block on the network.
	Send(msg transport.Message) error
}

// Rooms indexes sessions by id and by room.
type Rooms struct {
	mu       sync.RWMutex
	sessions map[string]Session
	rooms    map[string]map[string]Session
}

func NewRooms() *Rooms {
	return &Rooms{
		sessions: make(map[string]Session),
		rooms:    make(map[string]map[string]Session),
	}
}

// Join adds s to the room named after its role.
func (r *Rooms) Join(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	room, ok := r.rooms[s.Rol()]
	if !ok {
		room = make(map[string]Session)
		r.rooms[s.Rol()] = room
	}
	room[s.ID()] = s
}

// Leave removes s and reports whether it was present.
func (r *Rooms) Leave(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; !ok {
		return false
	}
	delete(r.sessions, s.ID())
	if room, ok := r.rooms[s.Rol()]; ok {
		delete(room, s.ID())
		if len(room) == 0 {
			delete(r.rooms, s.Rol())
		}
	}
	return true
}

func (r *Rooms) Get(id string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Members returns the sessions in room, ordered by id.
func (r *Rooms) Members(room string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ByNombre returns the sessions of room opened under nombre.
func (r *Rooms) ByNombre(room, nombre string) []Session {
	var out []Session
	for _, s := range r.Members(room) {
		if s.Nombre() == nombre {
			out = append(out, s)
		}
	}
	return out
}

func (r *Rooms) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
