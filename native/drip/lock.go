package drip

// lockTerms is the lock a deposit leaves the user with. total is the duration
// from start to end and feeds the boost calculation.
type lockTerms struct {
	start uint64
	end   uint64
	total uint64
}

// resolveLock computes the lock resulting from requesting an extra duration
// at time now. An active lock is re-anchored to now and keeps its remaining
// time. It has no side effects so it can run before any transfer.
func (e *Engine) resolveLock(rec *UserRecord, requested, now uint64) (lockTerms, error) {
	var remaining uint64
	if rec.LockedAt(now) {
		remaining = rec.LockEndTime - now
	}
	if requested == 0 {
		return lockTerms{start: rec.LockStartTime, end: rec.LockEndTime, total: remaining}, nil
	}
	if !e.params.LockingEnabled {
		return lockTerms{}, ErrLockingDisabled
	}
	total, err := addUint64(remaining, requested)
	if err != nil {
		return lockTerms{}, err
	}
	if total < e.params.MinLockDuration {
		return lockTerms{}, ErrLockTooShort
	}
	if total > e.params.MaxLockDuration {
		return lockTerms{}, ErrLockTooLong
	}
	end, err := addUint64(now, total)
	if err != nil {
		return lockTerms{}, err
	}
	return lockTerms{start: now, end: end, total: total}, nil
}
