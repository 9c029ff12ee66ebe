package directory

import (
	"context"
	"sync"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
)

type teamKey struct {
	userID string
	teamID string
}

// MemoryDirectory is an in-process Directory used for local runs and tests.
type MemoryDirectory struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	rooms       map[string]domain.Room
	roomMembers map[string]map[string]struct{}
	memberships map[teamKey]domain.Role
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:       make(map[string]domain.User),
		rooms:       make(map[string]domain.Room),
		roomMembers: make(map[string]map[string]struct{}),
		memberships: make(map[teamKey]domain.Role),
	}
}

func (d *MemoryDirectory) AddUser(u domain.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// AddRoom stores a room and, for private rooms, its member set.
func (d *MemoryDirectory) AddRoom(r domain.Room, members ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rooms[r.ID] = r
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	d.roomMembers[r.ID] = set
}

func (d *MemoryDirectory) AddMembership(m domain.Membership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.memberships[teamKey{m.UserID, m.TeamID}] = m.Role
}

func (d *MemoryDirectory) RemoveMembership(userID, teamID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.memberships, teamKey{userID, teamID})
}

func (d *MemoryDirectory) LookupUser(_ context.Context, userID string) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (d *MemoryDirectory) GetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &r, nil
}

func (d *MemoryDirectory) IsRoomMember(_ context.Context, roomID, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.roomMembers[roomID][userID]
	return ok, nil
}

func (d *MemoryDirectory) HasMembership(_ context.Context, userID, teamID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.memberships[teamKey{userID, teamID}]
	return ok, nil
}

func (d *MemoryDirectory) HasRole(_ context.Context, userID, teamID string, role domain.Role) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	got, ok := d.memberships[teamKey{userID, teamID}]
	return ok && got == role, nil
}
