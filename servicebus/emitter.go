package servicebus

import "sync"

// Object is implemented by values that emit signals. Services that declare signals
// must implement it so the export side can relay their events.
type Object interface {
	Signals() *Emitter
}

// Emitter is a local signal hub. Listeners run synchronously, in the order they were
// connected, on the goroutine that emits. The zero value is ready to use; an Emitter
// must not be copied after first use.
//
// Embedding an Emitter in an implementation struct makes it an Object.
type Emitter struct {
	mu    sync.RWMutex
	slots []slot
	next  uint64
}

type slot struct {
	id   uint64
	name string // empty matches every signal
	fn   func(name string, args []any)
}

// Signals returns e itself so embedding types satisfy Object.
func (e *Emitter) Signals() *Emitter { return e }

func (e *Emitter) connect(name string, fn func(name string, args []any)) (disconnect func()) {
	e.mu.Lock()
	e.next++
	id := e.next
	e.slots = append(e.slots, slot{id: id, name: name, fn: fn})
	e.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()

			for i, s := range e.slots {
				if s.id == id {
					e.slots = append(e.slots[:i:i], e.slots[i+1:]...)
					return
				}
			}
		})
	}
}

// connectAll subscribes fn to every signal emitted on e.
func (e *Emitter) connectAll(fn func(name string, args []any)) (disconnect func()) {
	return e.connect("", fn)
}

func (e *Emitter) emit(name string, args []any) {
	e.mu.RLock()
	slots := append([]slot(nil), e.slots...)
	e.mu.RUnlock()

	for _, s := range slots {
		if s.name == "" || s.name == name {
			s.fn(name, args)
		}
	}
}

// Listeners reports how many listeners are connected. Mainly useful in tests.
func (e *Emitter) Listeners() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.slots)
}
