package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// DefaultNodeID is used when Initialize was never called.
const DefaultNodeID int64 = 1

var (
	node *snowflake.Node
	once sync.Once
)

// Initialize sets up the Snowflake ID generator with a node ID.
// Only the first call has an effect; processes sharing a backend should
// pick distinct node IDs so request IDs stay unique across them.
func Initialize(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
		if err != nil {
			// Fall back so RequestID keeps working; the caller still sees err.
			node, _ = snowflake.NewNode(DefaultNodeID)
		}
	})
	return err
}

// RequestID returns a new Snowflake ID for correlating one logical request
// (including its single retry) across client and server logs.
func RequestID() string {
	_ = Initialize(DefaultNodeID)
	return node.Generate().String()
}
