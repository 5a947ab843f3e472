package tunnel

import (
	"slices"
	"sync"
)

// Subscription is returned by the Observe methods. Cancel stops delivery;
// it is safe to call more than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel stops the observation.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// observers is a set of callbacks keyed by registration order.
type observers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (o *observers[T]) add(fn func(T)) *Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[int]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return &Subscription{cancel: func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}}
}

// notify calls every callback outside of the lock, in registration order.
func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	ids := make([]int, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	fns := make([]func(T), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

