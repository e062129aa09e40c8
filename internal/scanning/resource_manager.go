package scanning

import (
	"context"
	"io"
	"sync"
)

// ResourceBinder tracks sockets held by in-flight probes so they can be
// force-closed when a scan is killed or cleaned up.
type ResourceBinder struct {
	mu        sync.Mutex
	resources map[string]map[*binding]struct{}
	closed    bool
}

type binding struct {
	closer io.Closer
	once   sync.Once
	stop   func() bool
}

func (b *binding) close() {
	b.once.Do(func() {
		_ = b.closer.Close()
	})
}

// NewResourceBinder creates an empty binder.
func NewResourceBinder() *ResourceBinder {
	return &ResourceBinder{resources: make(map[string]map[*binding]struct{})}
}

// Bind tracks c under key, usually the host address. c is closed when ctx
// ends, when CloseAll runs, or when the returned release func is called,
// whichever happens first. Release is idempotent.
func (rb *ResourceBinder) Bind(ctx context.Context, key string, c io.Closer) (release func()) {
	bd := &binding{closer: c}
	bd.stop = context.AfterFunc(ctx, bd.close)

	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		bd.stop()
		bd.close()
		return func() {}
	}
	set, ok := rb.resources[key]
	if !ok {
		set = make(map[*binding]struct{})
		rb.resources[key] = set
	}
	set[bd] = struct{}{}
	rb.mu.Unlock()

	return func() {
		bd.stop()
		rb.unbind(key, bd)
		bd.close()
	}
}

func (rb *ResourceBinder) unbind(key string, bd *binding) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	set, ok := rb.resources[key]
	if !ok {
		return
	}
	delete(set, bd)
	if len(set) == 0 {
		delete(rb.resources, key)
	}
}

// Active returns the number of tracked resources.
func (rb *ResourceBinder) Active() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	n := 0
	for _, set := range rb.resources {
		n += len(set)
	}
	return n
}

// CloseAll closes every tracked resource and rejects new ones until Reopen.
// It returns the number of resources closed.
func (rb *ResourceBinder) CloseAll() int {
	rb.mu.Lock()
	rb.closed = true
	all := rb.resources
	rb.resources = make(map[string]map[*binding]struct{})
	rb.mu.Unlock()

	n := 0
	for _, set := range all {
		for bd := range set {
			bd.stop()
			bd.close()
			n++
		}
	}
	return n
}

// Reopen accepts new resources again after CloseAll.
func (rb *ResourceBinder) Reopen() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.closed = false
}
