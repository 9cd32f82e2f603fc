package client

import (
	"context"
	"sync"
	"time"

	"tasksync/domain"
)

// FilterTarget receives filter changes from a FilterPanel.
type FilterTarget interface {
	ApplyFilters(domain.Filter)
	Filters() domain.Filter
}

// FilterPanel holds the filters being edited. Status, priority, clear and
// preset loads apply at once; search edits go through a debouncer.
type FilterPanel struct {
	target    FilterTarget
	presets   *PresetStore
	debouncer *Debouncer[string]

	mu    sync.Mutex
	local domain.Filter
}

// NewFilterPanel creates a panel seeded from the target's active filters.
// A zero delay uses DefaultDebounce.
func NewFilterPanel(target FilterTarget, presets *PresetStore, delay time.Duration) *FilterPanel {
	p := &FilterPanel{target: target, presets: presets, local: target.Filters()}
	p.debouncer = NewDebouncer(delay, p.onSearch)
	return p
}

// Local returns the filters as currently edited.
func (p *FilterPanel) Local() domain.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *FilterPanel) SetSearch(s string) {
	p.mu.Lock()
	p.local.Search = s
	p.debouncer.Push(s)
	p.mu.Unlock()
}

func (p *FilterPanel) onSearch(search string) {
	f := p.Local()
	if f.Search != search || search == p.target.Filters().Search {
		return
	}
	p.target.ApplyFilters(f)
}

func (p *FilterPanel) SetStatus(s domain.Status) {
	p.set(func(f *domain.Filter) { f.Status = s })
}

func (p *FilterPanel) SetPriority(pr domain.Priority) {
	p.set(func(f *domain.Filter) { f.Priority = pr })
}

// Apply replaces the local filters and applies them at once.
func (p *FilterPanel) Apply(f domain.Filter) {
	p.set(func(local *domain.Filter) { *local = f })
}

// Clear resets every field and applies the empty filter set.
func (p *FilterPanel) Clear() {
	p.set(func(f *domain.Filter) { *f = domain.Filter{} })
}

// set applies the edited filters at once. The local search goes out with
// them, so a search still waiting on the debouncer is dropped.
func (p *FilterPanel) set(fn func(*domain.Filter)) {
	p.mu.Lock()
	fn(&p.local)
	f := p.local
	p.debouncer.Cancel()
	p.mu.Unlock()
	p.target.ApplyFilters(f)
}

// SavePreset stores the local filters under name. An empty name is a no-op.
func (p *FilterPanel) SavePreset(ctx context.Context, name string) error {
	return p.presets.Save(ctx, name, p.Local())
}

// LoadPreset applies the most recent preset called name. It reports false
// when no such preset exists.
func (p *FilterPanel) LoadPreset(ctx context.Context, name string) (bool, error) {
	preset, ok, err := p.presets.Find(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	p.Apply(preset.Filters)
	return true, nil
}

// Close stops any pending search update.
func (p *FilterPanel) Close() {
	p.debouncer.Stop()
}
