// Package hooks implements the plugin-based hook dispatcher: named
// callout points invoked around the packet path, with plugins loaded as
// Go plugins (the idiomatic analogue of the original's `dlopen`-based
// shared libraries, per spec.md section 4.6).
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"plugin"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Sentinel errors.
const (
	ErrMissingSymbol errors.Error = "plugin is missing a required exported symbol"
	ErrBadSymbolType errors.Error = "plugin symbol has the wrong type"
)

// Point names the hook points the core invokes.
type Point string

// Hook points, per spec.md section 4.6.
const (
	PointPkt4Receive Point = "pkt4_receive"
	PointPkt4Send    Point = "pkt4_send"
)

// Status is the result of a callout, controlling whether the
// surrounding step's default behavior runs.
type Status int

// Callout statuses.
const (
	// StatusContinue lets the surrounding step's default behavior run.
	StatusContinue Status = iota
	// StatusSkip suppresses the surrounding step's default behavior
	// (for example, not emitting the packet).
	StatusSkip
)

// Handle carries the typed, named arguments a callout can read or
// modify for one invocation of a hook point. Arguments are looked up by
// the same names spec.md section 4.6 assigns them (`query4`,
// `response4`).
type Handle struct {
	Point Point
	args  map[string]any
}

// NewHandle returns a Handle for point, seeded with args.
func NewHandle(point Point, args map[string]any) (h *Handle) {
	return &Handle{Point: point, args: args}
}

// Get returns the named argument and whether it was present.
func (h *Handle) Get(name string) (v any, ok bool) {
	v, ok = h.args[name]
	return v, ok
}

// Set replaces the named argument, for callouts that mutate
// query4/response4 in place.
func (h *Handle) Set(name string, v any) { h.args[name] = v }

// Callout is a single registered hook function.
type Callout func(h *Handle) (status Status, err error)

// Plugin is the contract a Go plugin built for this dispatcher must
// satisfy via three exported symbols: `Version`, `Load`, and `Unload`,
// mirroring spec.md section 4.6's version()/load()/unload() contract.
type Plugin struct {
	// Version returns the plugin's ABI version string.
	Version func() string

	// Load registers the plugin's callouts with d, using the given
	// opaque per-plugin configuration string.
	Load func(d *Dispatcher, config string) (err error)

	// Unload releases any resources the plugin's Load acquired.
	Unload func() (err error)
}

// Dispatcher holds the callouts registered for each [Point], invoked in
// registration order; it replaces the original's process-wide hook
// manager singleton, built once at startup and swapped wholesale on
// reconfiguration (spec.md section 4's "Global mutable state").
type Dispatcher struct {
	logger   *slog.Logger
	callouts map[Point][]Callout
	plugins  []*Plugin
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) (d *Dispatcher) {
	return &Dispatcher{
		logger:   logger.With(slogutil.KeyPrefix, "hooks"),
		callouts: map[Point][]Callout{},
	}
}

// Register adds fn as a callout for point, appended after any already
// registered.
func (d *Dispatcher) Register(point Point, fn Callout) {
	d.callouts[point] = append(d.callouts[point], fn)
}

// LoadPlugin opens the Go plugin at path, resolves its `Version`,
// `Load`, and `Unload` symbols, and calls Load(d, config) so the plugin
// can register its callouts. The loaded plugin is tracked so
// [Dispatcher.UnloadAll] can later release it.
func (d *Dispatcher) LoadPlugin(path string, config string) (err error) {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("opening plugin %s: %w", path, err)
	}

	pl, err := resolvePlugin(p)
	if err != nil {
		return fmt.Errorf("resolving plugin %s: %w", path, err)
	}

	if err = pl.Load(d, config); err != nil {
		return fmt.Errorf("loading plugin %s (version %s): %w", path, pl.Version(), err)
	}

	d.plugins = append(d.plugins, pl)

	return nil
}

// resolvePlugin looks up and type-asserts the three required exported
// symbols from an opened Go plugin.
func resolvePlugin(p *plugin.Plugin) (pl *Plugin, err error) {
	versionSym, err := p.Lookup("Version")
	if err != nil {
		return nil, fmt.Errorf("%w: Version", ErrMissingSymbol)
	}
	loadSym, err := p.Lookup("Load")
	if err != nil {
		return nil, fmt.Errorf("%w: Load", ErrMissingSymbol)
	}
	unloadSym, err := p.Lookup("Unload")
	if err != nil {
		return nil, fmt.Errorf("%w: Unload", ErrMissingSymbol)
	}

	version, ok := versionSym.(func() string)
	if !ok {
		return nil, fmt.Errorf("%w: Version", ErrBadSymbolType)
	}
	load, ok := loadSym.(func(d *Dispatcher, config string) error)
	if !ok {
		return nil, fmt.Errorf("%w: Load", ErrBadSymbolType)
	}
	unload, ok := unloadSym.(func() error)
	if !ok {
		return nil, fmt.Errorf("%w: Unload", ErrBadSymbolType)
	}

	return &Plugin{Version: version, Load: load, Unload: unload}, nil
}

// UnloadAll calls Unload on every plugin loaded via [Dispatcher.LoadPlugin],
// in load order, logging but not stopping on individual failures.
func (d *Dispatcher) UnloadAll(ctx context.Context) {
	for _, pl := range d.plugins {
		if err := pl.Unload(); err != nil {
			d.logger.ErrorContext(ctx, "unloading plugin", slogutil.KeyError, err)
		}
	}
	d.plugins = nil
}

// Run invokes every callout registered for point, in registration
// order, with h. A callout returning an error is logged and treated as
// [StatusContinue], per spec.md section 4.6 ("a callout that throws is
// logged and treated as CONTINUE"). Run returns [StatusSkip] if any
// callout returned it.
func (d *Dispatcher) Run(ctx context.Context, point Point, h *Handle) (status Status) {
	status = StatusContinue

	for _, fn := range d.callouts[point] {
		s, err := fn(h)
		if err != nil {
			d.logger.ErrorContext(ctx, "callout failed", "point", point, slogutil.KeyError, err)
			continue
		}

		if s == StatusSkip {
			status = StatusSkip
		}
	}

	return status
}
