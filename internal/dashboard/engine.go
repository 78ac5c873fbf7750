package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cgem-lab/strainboard/internal/strains"
)

// Dataset is a table handed over by a Loader.
type Dataset struct {
	Table     *strains.Table
	FetchedAt time.Time
	Source    string
}

// Loader fetches the full inventory. fresh asks it to bypass any cached copy.
type Loader interface {
	Load(ctx context.Context, fresh bool) (*Dataset, error)
}

// Observer receives engine events; metrics.Recorder implements it.
type Observer interface {
	ObserveLoad(rows int)
	ObserveSelection(currentRows int)
	ObserveRefresh(d time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveLoad(int)                    {}
func (nopObserver) ObserveSelection(int)               {}
func (nopObserver) ObserveRefresh(time.Duration, error) {}

// View is a consistent read of the engine state. Callers must not modify it.
type View struct {
	Full      *strains.Table
	Current   *strains.Table
	Counts    []CountEntry
	Baseline  []CountEntry
	Universe  Universe
	Selection []Pair
	LoadedAt  time.Time
	Source    string
	Loading   bool
}

type state struct {
	full      *strains.Table
	current   *strains.Table
	universe  Universe
	baseline  []CountEntry
	counts    []CountEntry
	selection []Pair
	loadedAt  time.Time
	source    string
}

// Engine owns the full inventory, the filtered view and the chart counts.
// Mutations are serialized; reads never observe a half-applied change.
type Engine struct {
	cfg      Config
	loader   Loader
	logger   *zap.Logger
	observer Observer

	mu      sync.RWMutex
	st      *state
	loading atomic.Bool
	flight  singleflight.Group
	// loadMu runs one loader call at a time across flight keys.
	loadMu  sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoader sets the source used by Start and Refresh.
func WithLoader(l Loader) Option { return func(e *Engine) { e.loader = l } }

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// New returns an engine holding an empty inventory.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, logger: zap.NewNop(), observer: nopObserver{}}
	for _, o := range opts {
		o(e)
	}
	e.st = e.buildState(&Dataset{Table: strains.NewTable(nil)})
	return e
}

// Load replaces the full inventory, resets the view and recomputes the universe.
func (e *Engine) Load(t *strains.Table) {
	e.install(&Dataset{Table: t, FetchedAt: time.Now().UTC()})
}

func (e *Engine) install(ds *Dataset) {
	st := e.buildState(ds)
	e.mu.Lock()
	e.st = st
	e.mu.Unlock()
	e.observer.ObserveLoad(st.full.Len())
	e.logger.Info("inventory loaded",
		zap.Int("rows", st.full.Len()),
		zap.Int("pairs", len(st.universe)),
		zap.String("source", st.source))
}

func (e *Engine) buildState(ds *Dataset) *state {
	full := ds.Table.Clone()
	if full == nil {
		full = strains.NewTable(nil)
	}
	counts := ComputeCounts(e.cfg, full, nil)
	return &state{
		full:     full,
		current:  full,
		universe: UniverseOf(counts),
		baseline: counts,
		counts:   counts,
		loadedAt: ds.FetchedAt,
		source:   ds.Source,
	}
}

// ApplySelection narrows the view to rows matching the selected pairs and
// recounts against the existing universe. An empty selection restores the
// full inventory. It returns ErrLoading, leaving state untouched, while a
// refresh is running.
func (e *Engine) ApplySelection(pairs []Pair) error {
	e.mu.Lock()
	if e.loading.Load() {
		e.mu.Unlock()
		return ErrLoading
	}
	prev := e.st
	f := NewFilter(pairs)
	current := prev.full
	counts := prev.baseline
	if !f.Empty() {
		current = f.Apply(prev.full)
		counts = ComputeCounts(e.cfg, current, prev.universe)
	}
	e.st = &state{
		full:      prev.full,
		current:   current,
		universe:  prev.universe,
		baseline:  prev.baseline,
		counts:    counts,
		selection: append([]Pair(nil), pairs...),
		loadedAt:  prev.loadedAt,
		source:    prev.source,
	}
	e.mu.Unlock()

	e.observer.ObserveSelection(current.Len())
	e.logger.Debug("selection applied",
		zap.Int("pairs", len(pairs)),
		zap.Strings("categories", f.Categories()),
		zap.Int("rows", current.Len()))
	return nil
}

// Start performs the initial load, accepting a cached copy from the loader.
func (e *Engine) Start(ctx context.Context) error { return e.fetch(ctx, false) }

// Refresh reloads the inventory from its source and discards the active
// selection. Concurrent Refresh callers share one fetch; a Refresh that
// arrives during Start waits for it and then loads fresh. On failure the
// previous state is kept and the error matches ErrDataUnavailable.
func (e *Engine) Refresh(ctx context.Context) error { return e.fetch(ctx, true) }

func (e *Engine) fetch(ctx context.Context, fresh bool) error {
	if e.loader == nil {
		return &DataUnavailableError{Err: errors.New("no loader configured")}
	}
	key := "load"
	if fresh {
		key = "refresh"
	}
	_, err, _ := e.flight.Do(key, func() (any, error) {
		e.loadMu.Lock()
		defer e.loadMu.Unlock()
		e.loading.Store(true)
		defer e.loading.Store(false)
		started := time.Now()
		ds, err := e.loader.Load(ctx, fresh)
		if err == nil && (ds == nil || ds.Table == nil) {
			err = errors.New("loader returned no table")
		}
		e.observer.ObserveRefresh(time.Since(started), err)
		if err != nil {
			src := ""
			if ds != nil {
				src = ds.Source
			}
			e.logger.Warn("inventory refresh failed", zap.Bool("fresh", fresh), zap.Error(err))
			return nil, &DataUnavailableError{Source: src, Err: err}
		}
		e.install(ds)
		return nil, nil
	})
	return err
}

// Loading reports whether a refresh is in flight.
func (e *Engine) Loading() bool { return e.loading.Load() }

// View returns a consistent snapshot of the engine state.
func (e *Engine) View() View {
	e.mu.RLock()
	st := e.st
	e.mu.RUnlock()
	return View{
		Full:      st.full,
		Current:   st.current,
		Counts:    append([]CountEntry(nil), st.counts...),
		Baseline:  append([]CountEntry(nil), st.baseline...),
		Universe:  append(Universe(nil), st.universe...),
		Selection: append([]Pair(nil), st.selection...),
		LoadedAt:  st.loadedAt,
		Source:    st.source,
		Loading:   e.loading.Load(),
	}
}

// Current returns a copy of the filtered view.
func (e *Engine) Current() *strains.Table {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.current.Clone()
}

// Counts returns the counts of the filtered view in universe order.
func (e *Engine) Counts() []CountEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]CountEntry(nil), e.st.counts...)
}

// Universe returns the pair ordering captured at the last load.
func (e *Engine) Universe() Universe {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append(Universe(nil), e.st.universe...)
}

// Config returns the counting configuration.
func (e *Engine) Config() Config { return e.cfg }

// Lookup finds a strain in the full inventory by lab and entry.
func (e *Engine) Lookup(lab, entry string) (strains.Row, bool) {
	e.mu.RLock()
	full := e.st.full
	e.mu.RUnlock()
	r, ok := full.Find(lab, entry)
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}
