package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrEmptyTable is returned when a table file holds no rules. A truncated
// file mid-write must not replace a working table.
var ErrEmptyTable = errors.New("capability table has no rules")

// file is the on-disk shape of a capability table.
type file struct {
	Rules []Rule `yaml:"rules"`
}

// Parse decodes a YAML capability table.
func Parse(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding capability table: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, ErrEmptyTable
	}
	return NewTable(f.Rules)
}

// LoadFile reads and parses a YAML capability table.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capability table: %w", err)
	}
	return Parse(data)
}

// Registry serves lookups from a table that can be swapped at run time.
// It is safe for concurrent use.
type Registry struct {
	table  atomic.Pointer[Table]
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for reload messages.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry serving t. A nil table serves DefaultRules.
func NewRegistry(t *Table, opts ...Option) *Registry {
	r := &Registry{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if t == nil {
		t, _ = NewTable(DefaultRules())
	}
	r.table.Store(t)
	return r
}

// Lookup returns the tier for provider and model.
func (r *Registry) Lookup(provider, model string) Tier {
	return r.table.Load().Lookup(provider, model)
}

// Table returns the table currently in use.
func (r *Registry) Table() *Table {
	return r.table.Load()
}

// Swap replaces the active table.
func (r *Registry) Swap(t *Table) {
	if t != nil {
		r.table.Store(t)
	}
}

// Reload loads path and swaps it in. On error the current table is kept.
func (r *Registry) Reload(path string) error {
	t, err := LoadFile(path)
	if err != nil {
		return err
	}
	r.Swap(t)
	return nil
}

// Watch reloads the table whenever path changes, until ctx is done. The
// parent directory is watched so that editors replacing the file by rename
// are picked up. The initial load happens before Watch returns.
func (r *Registry) Watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	if err := r.Reload(path); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := r.Reload(path); err != nil {
					r.logger.Warn("capability table reload failed, keeping previous table",
						"path", path, "error", err)
					continue
				}
				r.logger.Info("capability table reloaded", "path", path,
					"rules", len(r.Table().rules))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("capability watcher error", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
