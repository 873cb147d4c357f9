package wasmino

import "context"

// Memory is the slice of guest linear memory the host touches directly.
type Memory interface {
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
}

// Allocator allocates memory in guest linear memory through the guest's own
// malloc/free exports.
type Allocator interface {
	Alloc(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr uint32) error
}
