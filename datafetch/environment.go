package datafetch

import "sync"

// Signal is an environment event a controller may revalidate on.
type Signal int

const (
	// SignalFocus fires when the host regains foreground focus.
	SignalFocus Signal = iota
	// SignalReconnect fires when connectivity returns after being lost.
	SignalReconnect
)

func (s Signal) String() string {
	switch s {
	case SignalFocus:
		return "focus"
	case SignalReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Environment relays host lifecycle events to controllers. The host calls
// Focus, Blur and SetOnline at its own boundaries; listeners are invoked
// synchronously and must not block.
type Environment struct {
	mu        sync.Mutex
	online    bool
	focused   bool
	listeners map[int]func(Signal)
	nextID    int
}

// NewEnvironment returns an environment that starts focused and online.
func NewEnvironment() *Environment {
	return &Environment{
		online:    true,
		focused:   true,
		listeners: make(map[int]func(Signal)),
	}
}

// Focus reports that the host regained focus.
func (e *Environment) Focus() {
	e.mu.Lock()
	e.focused = true
	e.mu.Unlock()
	e.emit(SignalFocus)
}

// Blur reports that the host lost focus.
func (e *Environment) Blur() {
	e.mu.Lock()
	e.focused = false
	e.mu.Unlock()
}

// SetOnline records connectivity. Only an offline to online transition emits
// SignalReconnect.
func (e *Environment) SetOnline(online bool) {
	e.mu.Lock()
	reconnected := online && !e.online
	e.online = online
	e.mu.Unlock()

	if reconnected {
		e.emit(SignalReconnect)
	}
}

// Online reports the last known connectivity.
func (e *Environment) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// Focused reports whether the host currently has focus.
func (e *Environment) Focused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focused
}

// Subscribe registers fn for every signal until the returned func is called.
func (e *Environment) Subscribe(fn func(Signal)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.listeners, id)
			e.mu.Unlock()
		})
	}
}

func (e *Environment) emit(s Signal) {
	e.mu.Lock()
	fns := make([]func(Signal), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
