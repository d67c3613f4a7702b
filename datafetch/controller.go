package datafetch

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Status is the lifecycle position of a Controller.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ControllerConfig describes the resource a Controller tracks and when it
// should go back to the network.
type ControllerConfig struct {
	Path    string
	Request RequestConfig
	// StaleTime is how long loaded data counts as fresh. Zero means data is
	// stale as soon as it arrives.
	StaleTime             time.Duration
	RevalidateOnFocus     bool
	RevalidateOnReconnect bool
	// Fallback is shown, flagged IsFallback, when loading fails with no data.
	Fallback     json.RawMessage
	ForceRefresh bool
	// Env delivers focus and reconnect signals. Nil disables revalidation.
	Env *Environment
}

// State is a snapshot of a Controller.
type State struct {
	Path       string
	Status     Status
	Data       json.RawMessage
	Err        error
	IsLoading  bool
	IsStale    bool
	IsFallback bool
	Metrics    *NetworkMetrics
	UpdatedAt  time.Time
}

// Controller keeps one resource loaded for a consumer. The consumer calls
// Start and Stop at its own lifecycle boundaries; everything the controller
// initiates is cancelled by Stop and late results are discarded.
type Controller struct {
	client *Client
	logger Logger

	mu        sync.Mutex
	cfg       ControllerConfig
	state     State
	started   bool
	gen       uint64
	cancel    context.CancelFunc
	unsubEnv  func()
	listeners map[int]func(State)
	nextID    int
}

// NewController creates a stopped controller for cfg.
func NewController(client *Client, cfg ControllerConfig) *Controller {
	return &Controller{
		client:    client,
		logger:    client.logger,
		cfg:       cfg,
		state:     State{Path: cfg.Path, Status: StatusIdle},
		listeners: make(map[int]func(State)),
	}
}

// Start evaluates the cache and loads the resource if needed. Calling Start
// on a running controller does nothing.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	if env := c.cfg.Env; env != nil && (c.cfg.RevalidateOnFocus || c.cfg.RevalidateOnReconnect) {
		c.unsubEnv = env.Subscribe(c.onSignal)
	}
	c.mu.Unlock()

	c.mount(c.cfg.ForceRefresh)
}

// Stop cancels any load the controller started, ignores its result and
// detaches from environment signals. A physical request shared with other
// callers keeps running for them.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.unsubEnv != nil {
		c.unsubEnv()
		c.unsubEnv = nil
	}
	c.state.IsLoading = false
	if c.state.Status == StatusLoading {
		if c.state.Data != nil {
			c.state.Status = StatusReady
		} else {
			c.state.Status = StatusIdle
		}
	}
	c.mu.Unlock()

	c.notify()
}

// SetPath switches the controller to another resource. A load for the
// previous path is cancelled and its result ignored.
func (c *Controller) SetPath(path string) {
	c.mu.Lock()
	if path == c.cfg.Path {
		c.mu.Unlock()
		return
	}
	c.cfg.Path = path
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = State{Path: path, Status: StatusIdle}
	started := c.started
	c.mu.Unlock()

	if started {
		c.mount(false)
	} else {
		c.notify()
	}
}

// Refetch bypasses freshness and reloads the resource. Displayed data stays
// in place until the new result arrives.
func (c *Controller) Refetch() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		c.load(true)
	}
}

// State returns a snapshot. IsStale is evaluated against the current time.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Subscribe calls fn with a snapshot after every state change until the
// returned func is called.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// mount implements the start-of-life decision: serve fresh cache without a
// request, otherwise show whatever is cached and load.
func (c *Controller) mount(force bool) {
	c.mu.Lock()
	path, req, staleTime := c.cfg.Path, c.cfg.Request, c.cfg.StaleTime
	c.mu.Unlock()

	entry, ok := c.client.Cached(path, req)
	if ok {
		now := c.client.clock.Now()
		c.mu.Lock()
		c.state.Data = entry.Payload
		c.state.UpdatedAt = entry.StoredAt
		c.state.IsFallback = false
		fresh := !force && entry.Age(now) < staleTime
		if fresh {
			c.state.Status = StatusReady
			c.state.Err = nil
			c.state.IsLoading = false
		}
		c.mu.Unlock()

		if fresh {
			c.logger.Debug("Serving fresh cached data", "path", path)
			c.notify()
			return
		}
	}

	c.load(force || ok)
}

// load starts a background request. refresh selects Client.Refresh over the
// cache-first Client.Fetch.
func (c *Controller) load(refresh bool) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	path, req := c.cfg.Path, c.cfg.Request
	c.state.Status = StatusLoading
	c.state.IsLoading = true
	c.mu.Unlock()

	c.notify()

	go func() {
		defer cancel()

		var (
			res *Result
			err error
		)
		if refresh {
			res, err = c.client.Refresh(ctx, path, req)
		} else {
			res, err = c.client.Fetch(ctx, path, req)
		}
		c.complete(gen, res, err)
	}()
}

func (c *Controller) complete(gen uint64, res *Result, err error) {
	c.mu.Lock()
	if gen != c.gen || !c.started {
		c.mu.Unlock()
		return
	}
	c.cancel = nil
	c.state.IsLoading = false

	switch {
	case err == nil:
		m := res.Metrics
		c.state.Status = StatusReady
		c.state.Data = res.Data
		c.state.Err = nil
		c.state.IsFallback = false
		c.state.Metrics = &m
		c.state.UpdatedAt = res.StoredAt

	case KindOf(err) == KindAborted:
		if c.state.Data != nil {
			c.state.Status = StatusReady
		} else {
			c.state.Status = StatusIdle
		}

	case (c.state.Data == nil || c.state.IsFallback) && c.cfg.Fallback != nil:
		c.state.Status = StatusReady
		c.state.Data = c.cfg.Fallback
		c.state.Err = err
		c.state.IsFallback = true
		c.state.UpdatedAt = c.client.clock.Now()

	default:
		c.state.Status = StatusErrored
		c.state.Err = err
	}
	path := c.cfg.Path
	c.mu.Unlock()

	if err != nil && KindOf(err) != KindAborted {
		c.logger.Debug("Controller load failed", "path", path, "error", err)
	}
	c.notify()
}

func (c *Controller) onSignal(s Signal) {
	c.mu.Lock()
	wanted := (s == SignalFocus && c.cfg.RevalidateOnFocus) ||
		(s == SignalReconnect && c.cfg.RevalidateOnReconnect)
	if !wanted || !c.started || c.state.IsLoading {
		c.mu.Unlock()
		return
	}
	st := c.snapshot()
	c.mu.Unlock()

	if st.Data != nil && !st.IsStale {
		return
	}
	c.logger.Debug("Revalidating", "path", st.Path, "signal", s.String())
	c.load(st.Data != nil && !st.IsFallback)
}

// snapshot must be called with c.mu held.
func (c *Controller) snapshot() State {
	st := c.state
	if st.Data != nil {
		st.IsStale = st.IsFallback || c.client.clock.Since(st.UpdatedAt) >= c.cfg.StaleTime
	}
	return st
}

func (c *Controller) notify() {
	c.mu.Lock()
	st := c.snapshot()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
