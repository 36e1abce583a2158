// Package registry tracks which connections occupy which rooms.
//
// A Registry is not safe for concurrent use. The relay hub owns it and
// mutates it from a single goroutine.
package registry

import (
	"errors"
	"sort"
)

// Capacity is the maximum number of members in a room.
const Capacity = 2

// ErrRoomFull is returned by Join when the room already has Capacity members.
var ErrRoomFull = errors.New("room is full")

// Registry maps room ids to their member connection ids.
type Registry struct {
	rooms map[string]map[string]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{rooms: make(map[string]map[string]struct{})}
}

// Join admits connID to roomID, creating the room if needed, and returns the
// resulting member set. A room at Capacity rejects the join with ErrRoomFull
// and is left untouched. Joining a room the connection is already in is a
// no-op.
func (r *Registry) Join(roomID, connID string) ([]string, error) {
	members, ok := r.rooms[roomID]
	if ok {
		if _, already := members[connID]; already {
			return sortedKeys(members), nil
		}
		if len(members) >= Capacity {
			return nil, ErrRoomFull
		}
	} else {
		members = make(map[string]struct{}, Capacity)
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	return sortedKeys(members), nil
}

// Leave removes connID from roomID and returns the remaining members. The
// room is deleted once empty. removed is false when the room or member was
// unknown, so repeated calls are harmless.
func (r *Registry) Leave(roomID, connID string) (remaining []string, removed bool) {
	members, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	if _, ok := members[connID]; !ok {
		return sortedKeys(members), false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return nil, true
	}
	return sortedKeys(members), true
}

// MembersExcept returns every member of roomID other than connID.
func (r *Registry) MembersExcept(roomID, connID string) []string {
	members := r.rooms[roomID]
	out := make([]string, 0, len(members))
	for id := range members {
		if id != connID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Members returns the members of roomID in sorted order.
func (r *Registry) Members(roomID string) []string {
	return sortedKeys(r.rooms[roomID])
}

// Contains reports whether connID is a member of roomID.
func (r *Registry) Contains(roomID, connID string) bool {
	_, ok := r.rooms[roomID][connID]
	return ok
}

// Size returns the number of members in roomID.
func (r *Registry) Size(roomID string) int {
	return len(r.rooms[roomID])
}

// Exists reports whether roomID has at least one member.
func (r *Registry) Exists(roomID string) bool {
	_, ok := r.rooms[roomID]
	return ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
