package session

import "sync"

const lockShards = 64

// keyedMutex hands out one mutex per key. Entries are reference counted and
// dropped when the last holder unlocks, so idle users hold no lock.
type keyedMutex struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	km := &keyedMutex{}
	for i := range km.shards {
		km.shards[i].locks = make(map[int64]*refLock)
	}
	return km
}

func (km *keyedMutex) shard(key int64) *lockShard {
	return &km.shards[uint64(key)%lockShards]
}

// Lock blocks until the key's mutex is held and returns its unlock function
func (km *keyedMutex) Lock(key int64) func() {
	s := km.shard(key)

	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &refLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// size returns the number of keys currently held or waited on
func (km *keyedMutex) size() int {
	n := 0
	for i := range km.shards {
		s := &km.shards[i]
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
