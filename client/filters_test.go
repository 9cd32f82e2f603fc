package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"tasksync/domain"
)

// recordingTarget applies filters synchronously, like a controller whose
// loop has already caught up.
type recordingTarget struct {
	mu      sync.Mutex
	active  domain.Filter
	applied []domain.Filter
}

func (r *recordingTarget) ApplyFilters(f domain.Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = f
	r.applied = append(r.applied, f)
}

func (r *recordingTarget) Filters() domain.Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *recordingTarget) calls() []domain.Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Filter(nil), r.applied...)
}

func newPanel(t *testing.T) (*FilterPanel, *recordingTarget) {
	t.Helper()
	target := &recordingTarget{}
	p := NewFilterPanel(target, NewPresetStore(NewMemoryKV()), 20*time.Millisecond)
	t.Cleanup(p.Close)
	return p, target
}

func TestFilterPanelDebouncesSearch(t *testing.T) {
	p, target := newPanel(t)
	for _, s := range []string{"a", "ab", "abc"} {
		p.SetSearch(s)
		time.Sleep(2 * time.Millisecond)
	}
	if calls := target.calls(); len(calls) != 0 {
		t.Fatalf("search applied before the quiet period: %v", calls)
	}
	time.Sleep(80 * time.Millisecond)
	calls := target.calls()
	if len(calls) != 1 || calls[0].Search != "abc" {
		t.Fatalf("expected a single apply with abc, got %v", calls)
	}
}

func TestFilterPanelSkipsUnchangedSearch(t *testing.T) {
	p, target := newPanel(t)
	target.ApplyFilters(domain.Filter{Search: "abc"})

	p.SetSearch("abcd")
	p.SetSearch("abc")
	time.Sleep(80 * time.Millisecond)
	if calls := target.calls(); len(calls) != 1 {
		t.Fatalf("expected no apply for an unchanged search, got %v", calls[1:])
	}
}

func TestFilterPanelAppliesOtherFieldsImmediately(t *testing.T) {
	p, target := newPanel(t)
	p.SetStatus(domain.StatusDone)
	p.SetPriority(domain.PriorityHigh)

	calls := target.calls()
	if len(calls) != 2 {
		t.Fatalf("expected two immediate applies, got %v", calls)
	}
	want := domain.Filter{Status: domain.StatusDone, Priority: domain.PriorityHigh}
	if calls[1] != want {
		t.Fatalf("expected %v, got %v", want, calls[1])
	}

	p.Clear()
	calls = target.calls()
	if last := calls[len(calls)-1]; !last.IsEmpty() {
		t.Fatalf("expected clear to apply an empty filter, got %v", last)
	}
	if !p.Local().IsEmpty() {
		t.Fatalf("expected local filters reset, got %v", p.Local())
	}
}

func TestFilterPanelPresets(t *testing.T) {
	p, target := newPanel(t)
	ctx := context.Background()

	if err := p.SavePreset(ctx, ""); err != nil {
		t.Fatalf("save empty name: %v", err)
	}
	if presets, _ := p.presets.List(ctx); len(presets) != 0 {
		t.Fatalf("expected empty name to be ignored, got %v", presets)
	}

	p.SetStatus(domain.StatusDone)
	if err := p.SavePreset(ctx, "Done"); err != nil {
		t.Fatalf("save: %v", err)
	}
	p.Clear()

	ok, err := p.LoadPreset(ctx, "Done")
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	calls := target.calls()
	if last := calls[len(calls)-1]; last != (domain.Filter{Status: domain.StatusDone}) {
		t.Fatalf("expected preset filters applied, got %v", last)
	}

	if ok, _ := p.LoadPreset(ctx, "Missing"); ok {
		t.Fatalf("expected unknown preset to report false")
	}
}

func TestFilterPanelClearDropsPendingSearch(t *testing.T) {
	p, target := newPanel(t)
	p.SetSearch("abc")
	p.Clear()
	time.Sleep(80 * time.Millisecond)

	calls := target.calls()
	if len(calls) != 1 || !calls[0].IsEmpty() {
		t.Fatalf("expected only the clear to be applied, got %v", calls)
	}
	if active := target.Filters(); active != p.Local() {
		t.Fatalf("active filters %v diverged from local %v", active, p.Local())
	}
}

func TestFilterPanelApplyDropsPendingSearch(t *testing.T) {
	p, target := newPanel(t)
	p.SetSearch("typed")
	p.Apply(domain.Filter{Status: domain.StatusDone})
	time.Sleep(80 * time.Millisecond)

	want := domain.Filter{Status: domain.StatusDone}
	if active := target.Filters(); active != want {
		t.Fatalf("expected %v to stay active, got %v", want, active)
	}
	if local := p.Local(); local != want {
		t.Fatalf("expected local %v, got %v", want, local)
	}
}

func TestFilterPanelLoadPresetDropsPendingSearch(t *testing.T) {
	p, target := newPanel(t)
	ctx := context.Background()
	if err := p.presets.Save(ctx, "High", domain.Filter{Priority: domain.PriorityHigh}); err != nil {
		t.Fatalf("save: %v", err)
	}

	p.SetSearch("draft")
	if ok, err := p.LoadPreset(ctx, "High"); err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	time.Sleep(80 * time.Millisecond)

	want := domain.Filter{Priority: domain.PriorityHigh}
	if active := target.Filters(); active != want {
		t.Fatalf("expected preset %v to stay active, got %v", want, active)
	}
	if calls := target.calls(); len(calls) != 1 {
		t.Fatalf("expected a single apply, got %v", calls)
	}
}

func TestFilterPanelStatusCarriesPendingSearch(t *testing.T) {
	p, target := newPanel(t)
	p.SetSearch("abc")
	p.SetStatus(domain.StatusTodo)
	time.Sleep(80 * time.Millisecond)

	calls := target.calls()
	want := domain.Filter{Search: "abc", Status: domain.StatusTodo}
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("expected one apply of %v, got %v", want, calls)
	}
}
