// Package localid generates snowflake-style string ids for messages
// that arrive without one (bare-text frames, legacy shapes) and for
// anything else that needs a session-unique id without a server round
// trip.
package localid

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// LocalPrefix marks ids that were synthesized on this client and are
// therefore not stable across sessions or peers.
const LocalPrefix = "local-"

type Node struct {
	mu   sync.Mutex
	time int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node number must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

func (n *Node) generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < n.time {
		// Clock moved backwards, refuse to go with it
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}

	n.time = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Next returns a plain decimal snowflake id.
func (n *Node) Next() string {
	return strconv.FormatInt(n.generate(), 10)
}

// NextLocal returns a synthesized id carrying the local prefix, for
// messages that never got a server id.
func (n *Node) NextLocal() string {
	return LocalPrefix + n.Next()
}

// IsLocal reports whether id was synthesized on a client rather than
// assigned by the server.
func IsLocal(id string) bool {
	return len(id) >= len(LocalPrefix) && id[:len(LocalPrefix)] == LocalPrefix
}
