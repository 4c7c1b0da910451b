package silence

import "sync/atomic"

// EpochGenerator mints listening-attempt ids. Ids are never reused, so a
// captured epoch can be compared with the current one to detect staleness.
type EpochGenerator struct {
	counter atomic.Uint64
}

func NewEpochGenerator() *EpochGenerator {
	return &EpochGenerator{}
}

// Next returns a new epoch. The first epoch is 1; zero means "none".
func (g *EpochGenerator) Next() uint64 {
	return g.counter.Add(1)
}
