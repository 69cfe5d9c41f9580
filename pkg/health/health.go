// Package health serves liveness and readiness probes.
//
// Every registered check runs on its own ticker. A check turns unhealthy
// after FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive successes. Optional checks are reported but
// never fail the probe, which suits dependencies the service can run
// without, such as a cache.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports whether a dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

// Options tune a single check. Zero values take the defaults.
type Options struct {
	Timeout          time.Duration // default 1s
	FailureThreshold int           // default 3
	SuccessThreshold int           // default 1
	// Optional checks show up in the body but do not flip the status code.
	Optional bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 1
	}
	return o
}

type check struct {
	name string
	fn   CheckFunc
	opts Options

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Touched only by the goroutine driving the check.
	fails, oks int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.fn(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.oks = 0
		c.fails++
		if c.fails >= c.opts.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.lastErr.Store(nil)
	c.fails = 0
	c.oks++
	if c.oks >= c.opts.SuccessThreshold {
		c.healthy.Store(true)
	}
}

func (c *check) status() string {
	if c.healthy.Load() {
		return "ok"
	}
	if msg := c.lastErr.Load(); msg != nil {
		return *msg
	}
	return "unhealthy"
}

// Health holds the registered checks and the manual readiness switch.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[Probe][]*check
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{checks: make(map[Probe][]*check)}
}

// Register adds a check to probe. Checks start healthy.
func (h *Health) Register(probe Probe, name string, opts Options, fn CheckFunc) {
	c := &check{name: name, fn: fn, opts: opts.withDefaults()}
	c.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[probe] = append(h.checks[probe], c)
}

// Start runs every check immediately and then every interval until Stop or
// until ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	var all []*check
	for _, cs := range h.checks {
		all = append(all, cs...)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			c.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.run(ctx)
				}
			}
		}()
	}
}

// Stop halts the checks and waits for them to return.
func (h *Health) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// SetReady flips the manual readiness switch, e.g. off while draining.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports the manual switch and all required readiness checks.
func (h *Health) IsReady() bool {
	ok, _ := h.evaluate(Readiness)
	return ok && h.ready.Load()
}

func (h *Health) evaluate(probe Probe) (ok bool, statuses map[string]string) {
	h.mu.RLock()
	checks := slices.Clone(h.checks[probe])
	h.mu.RUnlock()

	ok = true
	statuses = make(map[string]string, len(checks))
	for _, c := range checks {
		statuses[c.name] = c.status()
		if !c.healthy.Load() && !c.opts.Optional {
			ok = false
		}
	}
	return ok, statuses
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	ok, statuses := h.evaluate(Liveness)
	writeStatus(w, ok, statuses)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	ok, statuses := h.evaluate(Readiness)
	if !h.ready.Load() {
		ok = false
		statuses["_readiness"] = "service is not ready"
	}
	writeStatus(w, ok, statuses)
}

// writeStatus writes {"status": "ok"|"unhealthy", "checks": {...}} with
// checks sorted by name.
func writeStatus(w http.ResponseWriter, ok bool, statuses map[string]string) {
	status, code := "ok", http.StatusOK
	if !ok {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(statuses) == 0 {
			return
		}
		names := make([]string, 0, len(statuses))
		for name := range statuses {
			names = append(names, name)
		}
		slices.Sort(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(statuses[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
