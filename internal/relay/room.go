package relay

import "sort"

// Room is a named set of connected clients.
type Room struct {
	ID      string
	members map[string]*Client
}

func newRoom(id string) *Room {
	return &Room{ID: id, members: make(map[string]*Client)}
}

// IDs returns the member identities in sorted order.
func (r *Room) IDs() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) empty() bool {
	return len(r.members) == 0
}
