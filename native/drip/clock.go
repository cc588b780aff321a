package drip

import "time"

// Clock exposes the block context operations execute in.
type Clock interface {
	BlockHeight() uint64
	Now() time.Time
}

// WallClock derives block heights from wall time at a fixed block interval.
type WallClock struct {
	Genesis       time.Time
	BlockInterval time.Duration
}

func (c WallClock) Now() time.Time { return time.Now() }

func (c WallClock) BlockHeight() uint64 {
	if c.BlockInterval <= 0 {
		return 0
	}
	elapsed := time.Since(c.Genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / c.BlockInterval)
}

type instant struct {
	height uint64
	unix   uint64
}

func readClock(c Clock) instant {
	ts := c.Now().Unix()
	if ts < 0 {
		ts = 0
	}
	return instant{height: c.BlockHeight(), unix: uint64(ts)}
}

func (i instant) checkpoint(mode CheckpointMode) uint64 {
	if mode == CheckpointTime {
		return i.unix
	}
	return i.height
}
