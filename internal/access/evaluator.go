package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/directory"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
)

// Decision is the outcome of a join check.
type Decision int

const (
	Allowed Decision = iota
	RoomNotFound
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case RoomNotFound:
		return "room_not_found"
	case Forbidden:
		return "forbidden"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Evaluator decides whether a principal may join a room.
type Evaluator struct {
	dir directory.Directory
}

func NewEvaluator(dir directory.Directory) *Evaluator {
	return &Evaluator{dir: dir}
}

// Evaluate checks authentication before room existence so anonymous callers
// learn nothing about which rooms exist. Lookup failures are returned as
// errors and never as a decision.
func (e *Evaluator) Evaluate(ctx context.Context, p domain.Principal, roomID string) (Decision, error) {
	if !p.Authenticated {
		return Forbidden, nil
	}

	room, err := e.dir.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, directory.ErrRoomNotFound) {
			return RoomNotFound, nil
		}
		return Forbidden, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}

	var ok bool
	switch {
	case room.IsPrivate:
		ok, err = e.dir.IsRoomMember(ctx, room.ID, p.ID)
	case room.HasTeam():
		ok, err = e.dir.HasMembership(ctx, p.ID, *room.TeamID)
	default:
		return Allowed, nil
	}
	if err != nil {
		return Forbidden, fmt.Errorf("failed to check access to room %s: %w", roomID, err)
	}
	if !ok {
		return Forbidden, nil
	}
	return Allowed, nil
}
