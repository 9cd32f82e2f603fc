package client

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// State is what a view renders: the active filters, the latest applied
// result and whether a fetch is still outstanding.
type State struct {
	Filters domain.Filter
	Tasks   []domain.Task
	Loading bool
	// Err is the last fetch failure. It is cleared by the next successful fetch.
	Err error
}

type command struct {
	apply   *domain.Filter
	refetch bool
	done    *completion
}

type completion struct {
	seq   uint64
	tasks []domain.Task
	err   error
}

// QueryController keeps a task list in sync with a filter set. All state
// changes happen on the goroutine running Run; the exported methods only
// enqueue commands and never block.
type QueryController struct {
	api      TaskAPI
	log      *log.Logger
	onChange func(State)

	qmu    sync.Mutex
	queue  []command
	signal chan struct{}

	smu   sync.RWMutex
	state State

	// owned by Run
	issued  uint64
	applied uint64
}

// ControllerOption configures a QueryController.
type ControllerOption func(*QueryController)

// WithLogger sets the logger used for background fetch failures.
func WithLogger(l *log.Logger) ControllerOption {
	return func(c *QueryController) { c.log = l }
}

// WithOnChange registers a callback invoked from the command loop after every
// state change.
func WithOnChange(fn func(State)) ControllerOption {
	return func(c *QueryController) { c.onChange = fn }
}

// NewQueryController creates a controller with an empty filter set.
func NewQueryController(api TaskAPI, opts ...ControllerOption) *QueryController {
	c := &QueryController{
		api:    api,
		log:    log.StandardLogger(),
		signal: make(chan struct{}, 1),
		state:  State{Tasks: []domain.Task{}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ApplyFilters replaces the filter set and fetches, even when f equals the
// current filters.
func (c *QueryController) ApplyFilters(f domain.Filter) {
	c.enqueue(command{apply: &f})
}

// Refetch re-runs the query with the current filters.
func (c *QueryController) Refetch() {
	c.enqueue(command{refetch: true})
}

// Filters returns the active filter set.
func (c *QueryController) Filters() domain.Filter {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.state.Filters
}

// Snapshot returns a copy of the current state.
func (c *QueryController) Snapshot() State {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.snapshotLocked()
}

func (c *QueryController) snapshotLocked() State {
	s := c.state
	s.Tasks = make([]domain.Task, len(c.state.Tasks))
	for i, t := range c.state.Tasks {
		s.Tasks[i] = t.Clone()
	}
	return s
}

// CreateTask forwards to the server. The list is only updated by the
// refetch that the resulting change notification triggers.
func (c *QueryController) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	return c.api.CreateTask(ctx, in)
}

func (c *QueryController) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	return c.api.UpdateTask(ctx, id, patch)
}

func (c *QueryController) DeleteTask(ctx context.Context, id string) error {
	return c.api.DeleteTask(ctx, id)
}

func (c *QueryController) enqueue(cmd command) {
	c.qmu.Lock()
	c.queue = append(c.queue, cmd)
	c.qmu.Unlock()
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *QueryController) drain() []command {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	cmds := c.queue
	c.queue = nil
	return cmds
}

// Run processes commands until ctx is cancelled. Fetches started by Run use
// ctx, so cancelling it also abandons in-flight requests.
func (c *QueryController) Run(ctx context.Context) {
	for {
		for _, cmd := range c.drain() {
			c.handle(ctx, cmd)
		}
		select {
		case <-ctx.Done():
			return
		case <-c.signal:
		}
	}
}

func (c *QueryController) handle(ctx context.Context, cmd command) {
	switch {
	case cmd.apply != nil:
		c.update(func(s *State) { s.Filters = *cmd.apply })
		c.fetch(ctx)
	case cmd.refetch:
		c.fetch(ctx)
	case cmd.done != nil:
		c.complete(cmd.done)
	}
}

func (c *QueryController) fetch(ctx context.Context) {
	c.issued++
	seq := c.issued
	f := c.Filters()
	c.update(func(s *State) { s.Loading = true })

	go func() {
		tasks, err := c.api.ListTasks(ctx, f)
		c.enqueue(command{done: &completion{seq: seq, tasks: tasks, err: err}})
	}()
}

func (c *QueryController) complete(r *completion) {
	latest := r.seq == c.issued
	switch {
	case r.seq <= c.applied:
		// an older response finished after a newer one was applied
		c.log.WithFields(log.Fields{"seq": r.seq, "applied": c.applied}).Debug("discarding stale fetch result")
		if latest {
			c.update(func(s *State) { s.Loading = false })
		}
	case r.err != nil:
		c.log.WithError(r.err).Error("fetch tasks failed")
		c.update(func(s *State) {
			s.Err = r.err
			if latest {
				s.Loading = false
			}
		})
	default:
		c.applied = r.seq
		tasks := r.tasks
		if tasks == nil {
			tasks = []domain.Task{}
		}
		c.update(func(s *State) {
			s.Tasks = tasks
			s.Err = nil
			if latest {
				s.Loading = false
			}
		})
	}
}

func (c *QueryController) update(fn func(*State)) {
	c.smu.Lock()
	fn(&c.state)
	snap := c.snapshotLocked()
	c.smu.Unlock()
	if c.onChange != nil {
		c.onChange(snap)
	}
}
