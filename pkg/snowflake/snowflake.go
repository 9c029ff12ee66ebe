// Package snowflake generates roughly time-ordered 64-bit ids: 41 bits of
// milliseconds since a custom epoch, 10 bits of node id and a 12-bit sequence.
package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	timestampBits = 41
	nodeBits      = 10
	sequenceBits  = 12

	MaxNode     = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

// DefaultEpoch is 2024-01-01T00:00:00Z in unix milliseconds.
const DefaultEpoch int64 = 1704067200000

var (
	ErrClockBackwards = errors.New("clock moved backwards")
	ErrBeforeEpoch    = errors.New("current time is before custom epoch")
)

// Node hands out ids for a single node id. Safe for concurrent use.
type Node struct {
	mu       sync.Mutex
	epoch    int64
	node     int64
	sequence int64
	lastTime int64
	now      func() time.Time
}

// NewNode creates a generator. node must be in [0, MaxNode]; epoch is unix ms.
func NewNode(node int64, epoch int64) (*Node, error) {
	if node < 0 || node > MaxNode {
		return nil, fmt.Errorf("node id must be between 0 and %d, got %d", MaxNode, node)
	}
	return &Node{
		epoch: epoch,
		node:  node,
		now:   time.Now,
	}, nil
}

// Next returns the next id. Ids from one Node are strictly increasing.
func (n *Node) Next() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now().UnixMilli()
	if now < n.epoch {
		return 0, ErrBeforeEpoch
	}
	if now < n.lastTime {
		return 0, fmt.Errorf("%w: current=%d, last=%d", ErrClockBackwards, now, n.lastTime)
	}

	if now == n.lastTime {
		n.sequence = (n.sequence + 1) & maxSequence
		if n.sequence == 0 {
			// sequence exhausted for this millisecond
			for now <= n.lastTime {
				now = n.now().UnixMilli()
			}
		}
	} else {
		n.sequence = 0
	}
	n.lastTime = now

	return ((now - n.epoch) << timestampShift) | (n.node << nodeShift) | n.sequence, nil
}

// Time extracts the generation time encoded in id.
func (n *Node) Time(id int64) time.Time {
	ts := (id >> timestampShift) & ((1 << timestampBits) - 1)
	return time.UnixMilli(ts + n.epoch)
}
