// Package scheduler runs periodic maintenance on cron schedules: the
// judgment retention sweep, the daily activity digest, and chain head
// anchoring when an anchorer is configured.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/chain"
	"github.com/goodboyai/kennel/pkg/config"
	"github.com/goodboyai/kennel/pkg/judge"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/session"
	"github.com/goodboyai/kennel/pkg/storage"
)

// cronParser accepts standard 5-field expressions, optional seconds, and
// descriptors such as "@daily" and "@every 10m".
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

const (
	defaultPollInterval = 30 * time.Second

	// digestWindow is the lookback period summarised by each digest.
	digestWindow = 24 * time.Hour

	// digestMinSample is the smallest judgment count that can raise a
	// bark-rate anomaly. Below it a single bad call would dominate.
	digestMinSample = 5

	// barkSpikeRatio is the bark fraction that flags a digest window.
	barkSpikeRatio = 0.5
)

// Deps are the subsystems the standard jobs operate on. Nil fields disable
// the jobs that need them.
type Deps struct {
	Store    *storage.Manager
	Sessions *session.Manager
	Chain    *chain.Manager
	Anchorer judge.Anchorer
	Events   *bus.Bus
	Logger   *slog.Logger
}

// job is one scheduled unit of work with its parsed cron schedule.
type job struct {
	name     string
	schedule string
	sched    cron.Schedule
	run      func(ctx context.Context)
	next     time.Time
}

// JobInfo describes a registered job for status reporting.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run,omitzero"`
}

// Service owns the cron jobs and the single goroutine that fires them.
type Service struct {
	cfg      *config.SchedulerConfig
	store    *storage.Manager
	sessions *session.Manager
	chain    *chain.Manager
	anchorer judge.Anchorer
	events   *bus.Bus
	logger   *slog.Logger

	pollInterval time.Duration

	mu   sync.Mutex
	jobs []*job

	// lastAnchoredSlot skips anchor runs while the chain head is unchanged.
	lastAnchoredSlot int

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the service and registers the standard jobs. An invalid cron
// expression in cfg is a configuration error and fails construction.
func New(cfg *config.SchedulerConfig, deps Deps) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultSchedulerConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:              cfg,
		store:            deps.Store,
		sessions:         deps.Sessions,
		chain:            deps.Chain,
		anchorer:         deps.Anchorer,
		events:           deps.Events,
		logger:           logger.With("component", "scheduler"),
		pollInterval:     defaultPollInterval,
		lastAnchoredSlot: -1,
	}

	if s.store != nil && cfg.RetentionDays > 0 {
		if err := s.addJob("retention", cfg.RetentionCron, s.sweepRetention); err != nil {
			return nil, err
		}
	}
	if s.store != nil {
		if err := s.addJob("digest", cfg.DigestCron, s.publishDigest); err != nil {
			return nil, err
		}
	}
	if s.chain != nil && s.anchorer != nil {
		if err := s.addJob("anchor", cfg.AnchorCron, s.anchorHead); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Service) addJob(name, schedule string, run func(ctx context.Context)) error {
	if schedule == "" {
		s.logger.Warn("job has no schedule, skipping", "job", name)
		return nil
	}
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, schedule, err)
	}
	s.jobs = append(s.jobs, &job{name: name, schedule: schedule, sched: sched, run: run})
	return nil
}

// Start launches the polling loop. Calling Start on a running service is a
// no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	now := time.Now()
	s.mu.Lock()
	for _, j := range s.jobs {
		j.next = j.sched.Next(now)
	}
	s.mu.Unlock()

	go s.run(ctx)

	s.logger.Info("scheduler started",
		"jobs", len(s.jobs),
		"poll_interval", s.pollInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info("scheduler stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

// runDue fires every job whose next run time has passed and reschedules it.
func (s *Service) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.IsZero() && !now.Before(j.next) {
			due = append(due, j)
			j.next = j.sched.Next(now)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.runJob(ctx, j)
	}
}

func (s *Service) runJob(ctx context.Context, j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", j.name, "panic", r)
		}
	}()

	start := time.Now()
	j.run(ctx)
	s.recordFired(ctx, j.name, start)
}

// recordFired updates the persisted triggers state with the job's last run
// time and cumulative count.
func (s *Service) recordFired(ctx context.Context, name string, at time.Time) {
	if s.store == nil {
		return
	}
	state, err := s.store.LoadTriggersState(ctx)
	if err != nil || state == nil {
		state = &models.TriggersState{}
	}
	if state.LastFired == nil {
		state.LastFired = make(map[string]time.Time)
	}
	if state.Counts == nil {
		state.Counts = make(map[string]int)
	}
	state.LastFired[name] = at.UTC()
	state.Counts[name]++

	if err := s.store.SaveTriggersState(ctx, state); err != nil {
		s.logger.Warn("failed to record trigger state", "job", name, "error", err)
	}
}

// sweepRetention deletes judgments older than the retention window.
func (s *Service) sweepRetention(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	count, err := s.store.DeleteJudgmentsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("retention sweep removed judgments", "count", count, "cutoff", cutoff)
	}
}

// publishDigest summarises the last day of judgments into a notification,
// bumps the session digest counter, and raises an anomaly event when the
// bark rate spikes.
func (s *Service) publishDigest(ctx context.Context) {
	since := time.Now().UTC().Add(-digestWindow)
	judgments, err := s.store.SearchJudgments(ctx, storage.JudgmentFilter{
		Since: since,
		Limit: storage.MaxSearchLimit,
	})
	if err != nil {
		s.logger.Error("digest query failed", "error", err)
		return
	}

	byVerdict := make(map[models.Verdict]int)
	for _, j := range judgments {
		byVerdict[j.Verdict]++
	}
	total := len(judgments)
	barks := byVerdict[models.VerdictBark]

	level := "info"
	if total >= digestMinSample && float64(barks) >= barkSpikeRatio*float64(total) {
		level = "warning"
		s.publish(bus.TopicAnomaly, map[string]any{
			"type":         "bark_spike",
			"judgments":    total,
			"barks":        barks,
			"window_hours": int(digestWindow.Hours()),
		})
		s.logger.Warn("bark rate spike detected", "judgments", total, "barks", barks)
	}

	notification := &models.Notification{
		ID:    models.NewID("ntf"),
		Level: level,
		Message: fmt.Sprintf("activity digest: %d judgments (%d HOWL, %d WAG, %d GROWL, %d BARK)",
			total,
			byVerdict[models.VerdictHowl],
			byVerdict[models.VerdictWag],
			byVerdict[models.VerdictGrowl],
			barks),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.StoreNotification(ctx, notification); err != nil {
		s.logger.Error("failed to store digest notification", "error", err)
	}

	if s.sessions != nil {
		s.sessions.IncrementCounter(ctx, models.CounterDigests, 1)
	}

	s.logger.Info("digest published", "judgments", total, "barks", barks)
}

// anchorHead anchors the current chain head once per advance.
func (s *Service) anchorHead(ctx context.Context) {
	head := s.chain.Head()
	if head == nil {
		return
	}

	s.mu.Lock()
	stale := head.Slot <= s.lastAnchoredSlot
	s.mu.Unlock()
	if stale {
		return
	}

	if err := s.anchorer.AnchorBlock(ctx, head); err != nil {
		s.logger.Error("failed to anchor chain head", "slot", head.Slot, "error", err)
		return
	}

	s.mu.Lock()
	s.lastAnchoredSlot = head.Slot
	s.mu.Unlock()

	s.logger.Info("anchored chain head", "slot", head.Slot, "hash", head.Hash)
}

func (s *Service) publish(topic string, payload map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(topic, payload, bus.WithSource("scheduler"))
}

// Jobs returns the registered jobs and their next run times.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, JobInfo{Name: j.name, Schedule: j.schedule, NextRun: j.next})
	}
	return infos
}

// Health reports the scheduler state for the health endpoint.
func (s *Service) Health() map[string]any {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	status := "healthy"
	if len(s.jobs) == 0 {
		status = "idle"
	}
	return map[string]any{
		"status": status,
		"jobs":   names,
	}
}
