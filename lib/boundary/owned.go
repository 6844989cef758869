// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package boundary

import "sync"

// Owned is a resolved value whose dependent resources are released
// explicitly rather than by the container.
type Owned struct {
	Value   any
	Service string

	parent  *Proxy
	release func()

	mu       sync.Mutex
	once     sync.Once
	released bool
	detach   []func()
}

// Release runs the container's release action. Calling it again is a
// no-op.
func (o *Owned) Release() {
	o.once.Do(func() {
		o.mu.Lock()
		o.released = true
		detach := o.detach
		o.detach = nil
		o.mu.Unlock()

		if o.parent != nil {
			o.parent.forget(o)
		}
		for _, hook := range detach {
			hook()
		}
		if o.release != nil {
			o.release()
		}
	})
}

// Released reports whether Release has run.
func (o *Owned) Released() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.released
}

// onRelease registers hook to run when the value is released. If it
// already was, hook runs immediately.
func (o *Owned) onRelease(hook func()) {
	o.mu.Lock()
	if !o.released {
		o.detach = append(o.detach, hook)
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	hook()
}
