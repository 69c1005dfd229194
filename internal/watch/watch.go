// Package watch shares a value among goroutines and notifies watchers when it
// changes.
package watch

import "sync"

// Value holds a T that can be read, replaced, and watched.
//
// The zero value is ready to use and holds the zero T.
type Value[T any] struct {
	mu       sync.RWMutex
	value    T
	watchers map[*Watch[T]]struct{}
}

// NewValue returns a Value holding x.
func NewValue[T any](x T) *Value[T] {
	return &Value[T]{value: x}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set replaces the value and schedules a notification for every watcher.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.value = x
	for w := range v.watchers {
		w.offer(x)
	}
}

// Len returns the number of active watches.
func (v *Value[T]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.watchers)
}

// Watch calls handle with the current value and then with every later value.
// At most one call runs at a time per watch; values set while a call is in
// flight collapse into a single call with the latest one.
func (v *Value[T]) Watch(handle func(T)) *Watch[T] {
	w := &Watch[T]{
		value:   v,
		handler: handle,
		next:    make(chan T, 1),
		done:    make(chan struct{}),
	}

	v.mu.Lock()
	if v.watchers == nil {
		v.watchers = make(map[*Watch[T]]struct{})
	}
	v.watchers[w] = struct{}{}
	w.offer(v.value)
	v.mu.Unlock()

	go w.run()
	return w
}

func (v *Value[T]) unregister(w *Watch[T]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.watchers, w)
}

// Watch is a single registration created by Value.Watch.
type Watch[T any] struct {
	value   *Value[T]
	handler func(T)
	next    chan T // buffered, size 1
	done    chan struct{}

	cancelOnce sync.Once
}

func (w *Watch[T]) run() {
	defer close(w.done)
	for x := range w.next {
		w.dispatch(x)
	}
}

// dispatch runs the handler on its own goroutine so a handler calling
// runtime.Goexit cannot stop the run loop.
func (w *Watch[T]) dispatch(x T) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.handler(x)
	}()
	wg.Wait()
}

// offer must be called with the value's lock held.
func (w *Watch[T]) offer(x T) {
	select {
	case <-w.next:
		w.next <- x
	case w.next <- x:
	}
}

// Cancel stops future notifications. A handler call already in flight still
// completes.
func (w *Watch[T]) Cancel() {
	w.cancelOnce.Do(func() {
		w.value.unregister(w)
		select {
		case <-w.next:
		default:
		}
		close(w.next)
	})
}

// Wait blocks until the watch has been canceled and its last handler call has
// returned.
func (w *Watch[T]) Wait() {
	<-w.done
}
