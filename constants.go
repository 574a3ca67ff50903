package rdma

import (
	"github.com/ehrlich-b/go-rdma/internal/constants"
	"github.com/ehrlich-b/go-rdma/internal/ring"
	"github.com/ehrlich-b/go-rdma/internal/wire"
)

// Re-export constants for public API
const (
	WQESize    = ring.WQESize
	HeaderSize = wire.HeaderSize

	DefaultRingEntries      = constants.DefaultRingEntries
	DefaultMemoryRegionSize = constants.DefaultMemoryRegionSize
	DefaultTxBufferSize     = constants.DefaultTxBufferSize
	DefaultRxBufferSize     = constants.DefaultRxBufferSize
)
