package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultJobRetention is how long a finished job stays queryable.
const DefaultJobRetention = time.Hour

// ServiceOptions configures a Service. Zero values select defaults.
type ServiceOptions struct {
	// Sessions overrides the in-memory session store.
	Sessions SessionStore

	// MaxFileSize rejects larger uploads with FILE_TOO_LARGE. 0 disables the check.
	MaxFileSize int64

	// JobRetention is how long terminal jobs remain queryable.
	JobRetention time.Duration

	// Limiter bounds concurrent validations. nil means unbounded.
	Limiter *Limiter

	// Parse is passed to ParseFile.
	Parse ParseOptions

	Metrics  *Metrics
	Notifier Notifier

	// Clock and NewID are overridden in tests.
	Clock Clock
	NewID func() string
}

// Service owns the process-wide session and job stores and one Importer per
// registered module.
type Service struct {
	importers map[string]*Importer

	sessions SessionStore
	jobs     jobStore
	hub      *JobHub

	maxFileSize  int64
	jobRetention time.Duration
	limiter      *Limiter
	parseOpts    ParseOptions
	metrics      *Metrics
	notifier     Notifier
	now          Clock
	newID        func() string

	wg sync.WaitGroup

	sweepMu sync.Mutex
	sweeper *sweeper
}

// NewService creates a Service for every module in the registry.
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		importers:    make(map[string]*Importer),
		sessions:     opts.Sessions,
		hub:          NewJobHub(),
		maxFileSize:  opts.MaxFileSize,
		jobRetention: opts.JobRetention,
		limiter:      opts.Limiter,
		parseOpts:    opts.Parse,
		metrics:      opts.Metrics,
		now:          opts.Clock,
		newID:        opts.NewID,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	if s.jobRetention <= 0 {
		s.jobRetention = DefaultJobRetention
	}
	if s.sessions == nil {
		s.sessions = NewMemoryStore(WithClock[*Session](s.now))
	}
	s.jobs = NewMemoryStore(WithClock[*jobRecord](s.now))

	s.notifier = s.hub
	if opts.Notifier != nil {
		s.notifier = MultiNotifier{s.hub, opts.Notifier}
	}

	for _, cfg := range All() {
		s.importers[cfg.Name] = newImporter(s, cfg)
	}
	return s
}

// Importer returns the importer for a module.
func (s *Service) Importer(module string) (*Importer, error) {
	im, ok := s.importers[module]
	if !ok {
		return nil, newError(CodeUnknownModule, fmt.Sprintf("unknown module %q", module), nil)
	}
	return im, nil
}

// Modules returns the configuration of every module, sorted by name.
func (s *Service) Modules() []ModuleConfig {
	mods := make([]ModuleConfig, 0, len(s.importers))
	for _, im := range s.importers {
		mods = append(mods, im.cfg)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name < mods[j].Name })
	return mods
}

// subscribe streams snapshots of a job until it reaches a terminal state.
// The current snapshot is delivered first. The returned function stops the
// stream and must be called once the caller is done reading.
func (s *Service) subscribe(rec *jobRecord) (<-chan Job, func()) {
	snap := rec.snapshot()
	if snap.Status.Terminal() {
		ch := make(chan Job, 1)
		ch <- snap
		close(ch)
		return ch, func() {}
	}

	ch, unsubscribe := s.hub.Subscribe(snap.ID)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			unsubscribe()
		})
	}

	out := make(chan Job, 1)
	go func() {
		defer close(out)
		send := func(job Job) bool {
			select {
			case out <- job:
				return true
			case <-done:
				return false
			}
		}

		// Re-read after subscribing; a transition between the two reads
		// would otherwise be lost.
		cur := rec.snapshot()
		if !send(cur) || cur.Status.Terminal() {
			stop()
			return
		}
		for job := range ch {
			if !send(job) {
				return
			}
		}
	}()
	return out, stop
}

// Stats reports store sizes and limiter state.
type Stats struct {
	Sessions int            `json:"sessions"`
	Jobs     int            `json:"jobs"`
	Limiter  *LimiterStatus `json:"limiter,omitempty"`
}

// Stats returns a point-in-time view for health endpoints.
func (s *Service) Stats() Stats {
	st := Stats{Sessions: s.sessions.Len(), Jobs: s.jobs.Len()}
	if s.limiter != nil {
		ls := s.limiter.Status()
		st.Limiter = &ls
	}
	return st
}

// Sweep removes expired sessions and jobs.
func (s *Service) Sweep() (sessions, jobs int) {
	return s.sessions.Sweep(), s.jobs.Sweep()
}

// Wait blocks until every running job and validation finishes, or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.limiter != nil {
		if err := s.limiter.WaitForDrain(ctx); err != nil {
			return err
		}
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) notify(ctx context.Context, ev Event) {
	ev.Time = s.now()
	if r, ok := RequesterFrom(ctx); ok {
		ev.Requester = &r
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		loggerFor(ctx, ev.Module).Warn("event notification failed",
			"event", ev.Type,
			"error", err,
		)
	}
}
