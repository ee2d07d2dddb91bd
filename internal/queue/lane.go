package queue

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"
)

// SelectLane maps an address to a lane. The same address always lands on the
// same lane, which keeps its messages in arrival order.
func SelectLane(address string, lanes int) int {
	if lanes <= 0 {
		return 0
	}
	sum := blake3.Sum256([]byte(address))
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(lanes))
}

// StreamName returns the stream key of a lane.
func StreamName(prefix string, lane int) string {
	return fmt.Sprintf("%s:%d", prefix, lane)
}

// DedupKey returns the idempotency key of an external message token.
func DedupKey(token string) string {
	return "intake:dedup:" + token
}
