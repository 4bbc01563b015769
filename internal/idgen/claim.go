package idgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/bwmarrin/snowflake"
)

// MaxNodeID is the largest snowflake node id under the default bit layout.
var MaxNodeID int64 = -1 ^ (-1 << snowflake.NodeBits)

var ErrNoFreeNodeID = errors.New("no free snowflake node id")

// NodeIDClaimer reserves a node id for the life of the process. TryClaim
// reports false when another live process already holds id.
type NodeIDClaimer interface {
	TryClaim(ctx context.Context, id int64) (bool, error)
}

// ClaimNodeID walks the id space from a random offset and returns the first
// id it manages to reserve.
func ClaimNodeID(ctx context.Context, c NodeIDClaimer) (int64, error) {
	size := MaxNodeID + 1
	start := rand.Int64N(size)
	for i := int64(0); i < size; i++ {
		id := (start + i) % size
		ok, err := c.TryClaim(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("claim snowflake node %d: %w", id, err)
		}
		if ok {
			return id, nil
		}
	}
	return 0, ErrNoFreeNodeID
}
