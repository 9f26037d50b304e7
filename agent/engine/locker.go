package engine

import (
	"context"
	"sync"

	contractx "github.com/dmelendez/enerbot/agent/contract"
)

// contactLocks serializes orchestration runs per contact id. A holder closes
// its channel on release; waiters block on it and then race for the slot
// again, so execution for one contact is strictly serialized while different
// contacts proceed fully in parallel.
type contactLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newContactLocks() *contactLocks {
	return &contactLocks{held: make(map[string]chan struct{})}
}

// Acquire takes the exclusion scope for contactID. With rejectBusy a held
// scope returns ErrContactBusy immediately; otherwise the caller queues
// behind the current holder.
func (l *contactLocks) Acquire(ctx context.Context, contactID string, rejectBusy bool) (func(), error) {
	for {
		l.mu.Lock()
		current, held := l.held[contactID]
		if !held {
			release := make(chan struct{})
			l.held[contactID] = release
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, contactID)
					l.mu.Unlock()
					close(release)
				})
			}, nil
		}
		l.mu.Unlock()

		if rejectBusy {
			return nil, contractx.ErrContactBusy
		}
		select {
		case <-current:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
