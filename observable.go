package realtime

import "sync"

// observable holds a value and pushes every published value to its watchers.
// Publications are serialised so watchers observe values in publish order.
// A watcher must not publish to the observable that is notifying it.
type observable[T any] struct {
	notifyMu sync.Mutex

	mu        sync.RWMutex
	value     T
	nextID    uint64
	listeners map[uint64]func(T)
}

func (o *observable[T]) get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value
}

func (o *observable[T]) watch(fn func(T)) (stop func()) {
	o.mu.Lock()
	if o.listeners == nil {
		o.listeners = make(map[uint64]func(T))
	}
	o.nextID++
	id := o.nextID
	o.listeners[id] = fn
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

// publish computes the next value from the current one. When next reports
// false nothing is stored and nobody is notified.
func (o *observable[T]) publish(next func(prev T) (T, bool)) bool {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	value, ok := next(o.value)
	if !ok {
		o.mu.Unlock()
		return false
	}
	o.value = value
	listeners := make([]func(T), 0, len(o.listeners))
	for _, fn := range o.listeners {
		listeners = append(listeners, fn)
	}
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(value)
	}
	return true
}

func (o *observable[T]) set(value T) {
	o.publish(func(T) (T, bool) { return value, true })
}
