package server

import (
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/primalstall/internal/stall"
	"github.com/google/uuid"
)

// Watch is a remote stall monitor. The client is the solver: it reports
// improvements and ticks over HTTP and the server answers whether to stop.
type Watch struct {
	ID        string
	Sense     stall.Sense
	Config    stall.Config
	CreatedAt time.Time

	// mu serializes all calls into the watchdog
	mu           sync.Mutex
	clock        *stall.ManualClock
	watchdog     *stall.Watchdog
	improvements int
	ticks        int
}

// WatchStatus is the JSON view of a watch
type WatchStatus struct {
	ID           string           `json:"id"`
	Sense        stall.Sense      `json:"sense"`
	Config       stall.Config     `json:"config"`
	CreatedAt    time.Time        `json:"createdAt"`
	Best         *stall.Incumbent `json:"best,omitempty"`
	Interrupted  bool             `json:"interrupted"`
	Reason       stall.Reason     `json:"reason,omitempty"`
	Improvements int              `json:"improvements"`
	Ticks        int              `json:"ticks"`
	Elapsed      float64          `json:"elapsed"`
}

// now resolves the solving time of a request: explicit if given, otherwise
// seconds since the watch was created
func (w *Watch) now(at *float64) float64 {
	if at != nil {
		return *at
	}
	return time.Since(w.CreatedAt).Seconds()
}

// Improve reports a new best solution value. It returns whether the value
// reset the stall clock and the incumbent afterwards.
func (w *Watch) Improve(value float64, at *float64) (bool, stall.Incumbent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.clock.Set(w.now(at))
	w.improvements++
	accepted := w.watchdog.OnSolutionImproved(value)
	best, _ := w.watchdog.Monitor().Best()
	return accepted, best
}

// Tick reports solver progress and returns the (latched) interrupt decision
func (w *Watch) Tick(at *float64) (bool, stall.Reason) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.clock.Set(w.now(at))
	w.ticks++
	w.watchdog.OnTick()
	return w.watchdog.Interrupted()
}

// Status returns a consistent snapshot of the watch
func (w *Watch) Status() WatchStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	status := WatchStatus{
		ID:           w.ID,
		Sense:        w.Sense,
		Config:       w.Config,
		CreatedAt:    w.CreatedAt,
		Improvements: w.improvements,
		Ticks:        w.ticks,
		Elapsed:      time.Since(w.CreatedAt).Seconds(),
	}
	if best, ok := w.watchdog.Monitor().Best(); ok {
		status.Best = &best
	}
	status.Interrupted, status.Reason = w.watchdog.Interrupted()
	return status
}

// WatchManager manages the lifecycle of watches
type WatchManager struct {
	mu      sync.RWMutex
	watches map[string]*Watch
}

// NewWatchManager creates an empty WatchManager
func NewWatchManager() *WatchManager {
	return &WatchManager{
		watches: make(map[string]*Watch),
	}
}

// CreateWatch creates a watch with a fresh monitor for the given configuration.
// observe, if not nil, returns the observers to attach for the new watch ID.
func (wm *WatchManager) CreateWatch(sense stall.Sense, config stall.Config, observe func(id string) []stall.Observer) *Watch {
	watch := &Watch{
		ID:        uuid.New().String(),
		Sense:     sense,
		Config:    config,
		CreatedAt: time.Now(),
		clock:     &stall.ManualClock{},
	}

	var wdOpts []stall.WatchdogOption
	if observe != nil {
		for _, o := range observe(watch.ID) {
			wdOpts = append(wdOpts, stall.WithObserver(o))
		}
	}
	// A remote watch has no host to interrupt: the decision is the response
	watch.watchdog = stall.NewWatchdog(stall.NewMonitor(config), sense, watch.clock, nil, wdOpts...)

	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.watches[watch.ID] = watch
	return watch
}

// GetWatch retrieves a watch by ID
func (wm *WatchManager) GetWatch(id string) (*Watch, bool) {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	watch, exists := wm.watches[id]
	return watch, exists
}

// ListWatches returns all watches, oldest first
func (wm *WatchManager) ListWatches() []*Watch {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	watches := make([]*Watch, 0, len(wm.watches))
	for _, w := range wm.watches {
		watches = append(watches, w)
	}
	sort.Slice(watches, func(i, j int) bool {
		return watches[i].CreatedAt.Before(watches[j].CreatedAt)
	})
	return watches
}

// DeleteWatch removes a watch; it reports whether the watch existed
func (wm *WatchManager) DeleteWatch(id string) bool {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if _, exists := wm.watches[id]; !exists {
		return false
	}
	delete(wm.watches, id)
	return true
}
