package dumparena

// ArenaStats contains statistical information about an arena.
type ArenaStats struct {
	UsedSize      int     // Bytes below the current mark, including alignment and abandoned block tails
	AllocatedSize int     // Total capacity of all blocks
	NumBlocks     int     // Number of blocks
	BlockSize     int     // Minimum capacity of a new block
	Utilization   float64 // Ratio of used to allocated (0.0-1.0)
}

// NumBlocks returns the number of blocks currently backing the arena.
func (a *Arena) NumBlocks() int {
	return len(a.blocks)
}

// Capacity returns the total capacity (in bytes) of all blocks in the arena.
func (a *Arena) Capacity() int {
	return a.allocated
}

// Utilization returns the ratio of bytes in use to total capacity (0.0 to 1.0).
// Returns 0.0 if the arena has no capacity.
func (a *Arena) Utilization() float64 {
	if a.allocated == 0 {
		return 0
	}
	return float64(a.used) / float64(a.allocated)
}

// BlockSize returns the minimum block capacity used by this arena.
func (a *Arena) BlockSize() int {
	return a.blockSize
}

// Stats returns a snapshot of arena statistics.
func (a *Arena) Stats() ArenaStats {
	return ArenaStats{
		UsedSize:      a.used,
		AllocatedSize: a.allocated,
		NumBlocks:     a.NumBlocks(),
		BlockSize:     a.blockSize,
		Utilization:   a.Utilization(),
	}
}
