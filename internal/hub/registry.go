package hub

import (
	"errors"
	"hash/maphash"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
)

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session // roomID -> sessionID -> session
}

// Registry tracks which live sessions are joined to which room. Rooms are
// spread over independently locked shards; no lock is held while delivering.
type Registry struct {
	shards [shardCount]*shard
	seed   maphash.Seed
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{
		seed:   maphash.MakeSeed(),
		logger: logger,
	}
	for i := range r.shards {
		r.shards[i] = &shard{rooms: make(map[string]map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(roomID string) *shard {
	return r.shards[maphash.String(r.seed, roomID)%shardCount]
}

// Join adds s to roomID.
func (r *Registry) Join(roomID string, s *Session) {
	sh := r.shardFor(roomID)
	sh.mu.Lock()
	members, ok := sh.rooms[roomID]
	if !ok {
		members = make(map[string]*Session)
		sh.rooms[roomID] = members
	}
	members[s.ID] = s
	n := len(members)
	sh.mu.Unlock()

	r.logger.Debug().Str(log.FieldRoomID, roomID).Str(log.FieldConnID, s.ID).Int("members", n).Msg("session joined room")
}

// Leave removes s from roomID. Leaving twice is a no-op.
func (r *Registry) Leave(roomID string, s *Session) {
	sh := r.shardFor(roomID)
	sh.mu.Lock()
	members, ok := sh.rooms[roomID]
	if ok {
		if cur, present := members[s.ID]; present && cur == s {
			delete(members, s.ID)
		}
		if len(members) == 0 {
			delete(sh.rooms, roomID)
		}
	}
	sh.mu.Unlock()

	r.logger.Debug().Str(log.FieldRoomID, roomID).Str(log.FieldConnID, s.ID).Msg("session left room")
}

// Broadcast queues payload for every session in roomID except the excluded
// session ids and returns how many sessions accepted it. A session whose
// queue is full is closed; delivery to the others continues.
func (r *Registry) Broadcast(roomID string, payload []byte, exclude ...string) int {
	sh := r.shardFor(roomID)
	sh.mu.RLock()
	members := sh.rooms[roomID]
	targets := make([]*Session, 0, len(members))
	for id, s := range members {
		if !contains(exclude, id) {
			targets = append(targets, s)
		}
	}
	sh.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		err := s.Send(payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSendQueueFull):
			r.logger.Warn().Str(log.FieldRoomID, roomID).Str(log.FieldConnID, s.ID).Msg("slow consumer, closing session")
			go s.Close(domain.CloseInternalError)
		default:
			r.logger.Debug().Err(err).Str(log.FieldRoomID, roomID).Str(log.FieldConnID, s.ID).Msg("skipping closed session")
		}
	}
	return delivered
}

// Members returns the number of sessions joined to roomID.
func (r *Registry) Members(roomID string) int {
	sh := r.shardFor(roomID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.rooms[roomID])
}

// Stats returns the number of non-empty rooms and joined sessions.
func (r *Registry) Stats() (rooms, sessions int) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		rooms += len(sh.rooms)
		for _, members := range sh.rooms {
			sessions += len(members)
		}
		sh.mu.RUnlock()
	}
	return rooms, sessions
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
