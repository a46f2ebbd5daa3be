// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package sandbox

import (
	"context"
	"sync"
)

// dirLocks grants exclusive use of sandbox directories.
// The zero value holds no locks.
type dirLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// acquire blocks until it holds the lock for dir or ctx.Done is closed.
// On success, it returns a function that releases the lock.
// Calling release more than once is a no-op.
func (dl *dirLocks) acquire(ctx context.Context, dir string) (release func(), err error) {
	for {
		dl.mu.Lock()
		busy, isHeld := dl.held[dir]
		if !isHeld {
			done := make(chan struct{})
			if dl.held == nil {
				dl.held = make(map[string]chan struct{})
			}
			dl.held[dir] = done
			dl.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					dl.mu.Lock()
					delete(dl.held, dir)
					dl.mu.Unlock()
					close(done)
				})
			}, nil
		}
		dl.mu.Unlock()

		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
