package app

import (
	"sync"

	"github.com/medbridge/callcore/internal/core"
	"github.com/medbridge/callcore/internal/domain"
)

// MemStore is the single-instance MemberStore: plain maps behind one mutex.
// Members keep join order.
type MemStore struct {
	mu    sync.Mutex
	rooms map[domain.RoomID][]domain.Member
}

func NewMemStore() *MemStore {
	return &MemStore{rooms: make(map[domain.RoomID][]domain.Member)}
}

func (s *MemStore) Add(room domain.RoomID, m domain.Member) ([]domain.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.rooms[room]
	for _, cur := range members {
		if cur.Conn == m.Conn {
			return snapshotWithout(members, m.Conn), false
		}
	}
	prior := snapshot(members)
	s.rooms[room] = append(members, m)
	return prior, true
}

func (s *MemStore) Remove(room domain.RoomID, conn domain.ConnID) (domain.Member, []domain.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		return domain.Member{}, nil, false
	}
	for i, cur := range members {
		if cur.Conn != conn {
			continue
		}
		rest := append(members[:i:i], members[i+1:]...)
		if len(rest) == 0 {
			delete(s.rooms, room)
		} else {
			s.rooms[room] = rest
		}
		return cur, snapshot(rest), true
	}
	return domain.Member{}, nil, false
}

func (s *MemStore) RoomsOf(conn domain.ConnID) []domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RoomID
	for room, members := range s.rooms {
		for _, m := range members {
			if m.Conn == conn {
				out = append(out, room)
				break
			}
		}
	}
	return out
}

func (s *MemStore) Members(room domain.RoomID) ([]domain.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.rooms[room]
	if !ok {
		return nil, false
	}
	return snapshot(members), true
}

func (s *MemStore) Rooms() []core.RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RoomInfo, 0, len(s.rooms))
	for room, members := range s.rooms {
		out = append(out, core.RoomInfo{ID: room, MemberCount: len(members)})
	}
	return out
}

func snapshot(members []domain.Member) []domain.Member {
	out := make([]domain.Member, len(members))
	copy(out, members)
	return out
}

func snapshotWithout(members []domain.Member, conn domain.ConnID) []domain.Member {
	out := make([]domain.Member, 0, len(members))
	for _, m := range members {
		if m.Conn != conn {
			out = append(out, m)
		}
	}
	return out
}
