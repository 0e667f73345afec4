package plugin

import (
	"context"
	"fmt"
	"iter"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Handler executes a plugin function with validated arguments.
type Handler func(ctx context.Context, args Args) (string, error)

// Descriptor describes one callable plugin function. It is immutable once registered.
type Descriptor struct {
	Plugin      string  `json:"plugin" yaml:"plugin"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Params      Schema  `json:"parameters" yaml:"parameters"`
	Handler     Handler `json:"-" yaml:"-"`
}

// ID returns the "plugin.function" identifier.
func (d Descriptor) ID() string {
	return d.Plugin + "." + d.Name
}

// Info carries plugin-level metadata.
type Info struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Version     string   `json:"version" yaml:"version"`
	Author      string   `json:"author,omitempty" yaml:"author,omitempty"`
	Functions   []string `json:"functions" yaml:"functions"`
}

// Observer receives one callback per invocation, after it finishes.
type Observer func(ctx context.Context, plugin, function string, elapsed time.Duration, err error)

// Registry maps (plugin, function) pairs to descriptors. Names are matched case-insensitively.
type Registry struct {
	mu       sync.RWMutex
	funcs    map[string]Descriptor
	plugins  map[string]Info
	observer Observer
	logger   *log.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver installs an invocation observer (metrics, tracing).
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithLogger overrides the default "[PLUGIN] " logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		funcs:   make(map[string]Descriptor),
		plugins: make(map[string]Info),
		logger:  log.New(log.Writer(), "[PLUGIN] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(plugin, function string) string {
	return strings.ToLower(strings.TrimSpace(plugin)) + "." + strings.ToLower(strings.TrimSpace(function))
}

// Describe records plugin metadata. Functions registered later are attached to it.
func (r *Registry) Describe(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pk := strings.ToLower(info.Name)
	if existing, ok := r.plugins[pk]; ok {
		info.Functions = existing.Functions
	} else {
		info.Functions = nil
	}
	r.plugins[pk] = info
}

// Register adds a function descriptor.
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Plugin) == "" || strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: plugin and function names are required", ErrInvalidParameters)
	}
	if d.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidParameters, d.ID())
	}
	seen := make(map[string]struct{}, len(d.Params))
	for _, p := range d.Params {
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %s declares parameter %q twice", ErrInvalidParameters, d.ID(), p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	d.Params = append(Schema(nil), d.Params...)

	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(d.Plugin, d.Name)
	if _, exists := r.funcs[k]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, d.ID())
	}
	r.funcs[k] = d
	pk := strings.ToLower(d.Plugin)
	info, ok := r.plugins[pk]
	if !ok {
		info = Info{Name: d.Plugin, Version: "1.0.0"}
	}
	info.Functions = append(info.Functions, d.Name)
	sort.Strings(info.Functions)
	r.plugins[pk] = info
	return nil
}

// MustRegister registers every descriptor and panics on the first error. Meant for built-ins at startup.
func (r *Registry) MustRegister(ds ...Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the descriptor for a pair.
func (r *Registry) Lookup(plugin, function string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.funcs[key(plugin, function)]
	return d, ok
}

// Invoke validates params and runs the handler.
func (r *Registry) Invoke(ctx context.Context, plugin, function string, params map[string]any) (result string, err error) {
	start := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer(ctx, plugin, function, time.Since(start), err)
		}
	}()

	d, ok := r.Lookup(plugin, function)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownFunction, plugin, function)
	}
	args, err := d.Params.Validate(params)
	if err != nil {
		return "", fmt.Errorf("%s: %w", d.ID(), err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrHandler, d.ID(), err)
	}
	out, herr := call(ctx, d, args)
	if herr != nil {
		r.logger.Printf("%s failed: %v", d.ID(), herr)
		return "", fmt.Errorf("%w: %s: %v", ErrHandler, d.ID(), herr)
	}
	return out, nil
}

// call runs the handler, turning a panic into an ordinary handler failure.
func call(ctx context.Context, d Descriptor, args Args) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return d.Handler(ctx, args)
}

// All yields every descriptor ordered by plugin then function name. Each call restarts the walk.
func (r *Registry) All() iter.Seq[Descriptor] {
	return func(yield func(Descriptor) bool) {
		r.mu.RLock()
		keys := make([]string, 0, len(r.funcs))
		for k := range r.funcs {
			keys = append(keys, k)
		}
		r.mu.RUnlock()
		sort.Strings(keys)
		for _, k := range keys {
			r.mu.RLock()
			d, ok := r.funcs[k]
			r.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}

// Plugins lists plugin metadata ordered by name.
func (r *Registry) Plugins() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.plugins))
	for _, info := range r.plugins {
		if len(info.Functions) == 0 {
			continue
		}
		info.Functions = append([]string(nil), info.Functions...)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

// Catalogue returns every descriptor as a slice, for prompt construction.
func (r *Registry) Catalogue() []Descriptor {
	var out []Descriptor
	for d := range r.All() {
		out = append(out, d)
	}
	return out
}
