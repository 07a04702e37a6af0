// Package tasks runs the deferred-job side of the runtime: a polling
// scheduler that claims due tasks from the store and dispatches them to
// the task workers plugins registered.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codeready-toolchain/murmur/pkg/models"
	"github.com/codeready-toolchain/murmur/pkg/plugin"
	"github.com/codeready-toolchain/murmur/pkg/store"
)

// ServiceType is the registry key the scheduler registers under.
const ServiceType = "task"

const (
	defaultPollInterval = 10 * time.Second
	defaultPollJitter   = 2 * time.Second
)

// cronParser accepts standard five-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr is a usable cron expression.
func ValidateSchedule(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// Service polls the store for due tasks and executes them through the
// runtime's registered task workers. One-shot tasks (no repeat tag) are
// deleted after execution; recurring tasks get their UpdatedAt advanced.
type Service struct {
	rt       plugin.Runtime
	logger   *slog.Logger
	interval time.Duration
	jitter   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Definition returns the ServiceDefinition the bootstrap plugin registers.
// The scheduler starts polling immediately; registration is deferred by
// the runtime until the store is ready.
func Definition() *plugin.ServiceDefinition {
	return &plugin.ServiceDefinition{
		Type: ServiceType,
		Start: func(ctx context.Context, rt plugin.Runtime) (plugin.Service, error) {
			s := NewService(rt)
			s.Start(ctx)
			return s, nil
		},
	}
}

// NewService builds an unstarted scheduler. The poll interval comes from
// the TASK_POLL_INTERVAL_MS setting when present.
func NewService(rt plugin.Runtime) *Service {
	interval := defaultPollInterval
	if v, ok := rt.GetSetting("TASK_POLL_INTERVAL_MS").(string); ok && v != "" {
		if ms, err := time.ParseDuration(v + "ms"); err == nil && ms > 0 {
			interval = ms
		}
	}
	return &Service{
		rt:       rt,
		logger:   rt.Logger().With("component", "tasks"),
		interval: interval,
		jitter:   defaultPollJitter,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the polling loop in a goroutine.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for it. Safe to call twice.
func (s *Service) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("task scheduler started", "interval", s.interval)

	for {
		select {
		case <-s.stopCh:
			s.logger.Info("task scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("context cancelled, task scheduler stopped")
			return
		case <-time.After(s.pollInterval()):
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("task poll failed", "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter so multiple agents
// sharing a store do not stampede.
func (s *Service) pollInterval() time.Duration {
	if s.jitter <= 0 {
		return s.interval
	}
	offset := time.Duration(rand.Int64N(int64(2 * s.jitter)))
	return s.interval - s.jitter + offset
}

// Tick claims and executes every due queued task once. Exposed for tests
// and for callers that want to drive the scheduler manually.
func (s *Service) Tick(ctx context.Context) error {
	tasks, err := s.rt.GetTasks(ctx, store.TaskQuery{Tags: []string{models.TagQueue}})
	if err != nil {
		return fmt.Errorf("list queued tasks: %w", err)
	}
	now := time.Now()
	for _, task := range tasks {
		due, err := s.isDue(task, now)
		if err != nil {
			s.logger.Warn("skipping task with invalid schedule", "task", task.Name, "error", err)
			continue
		}
		if !due {
			continue
		}
		if err := s.executeTask(ctx, task); err != nil {
			s.logger.Error("task execution failed", "task", task.Name, "error", err)
		}
	}
	return nil
}

// isDue applies the task's schedule: a cron expression when set,
// otherwise the UpdateInterval in milliseconds since the last run. Tasks
// with neither are due immediately.
func (s *Service) isDue(task *models.Task, now time.Time) (bool, error) {
	lastRun := task.Metadata.UpdatedAt
	if lastRun == 0 {
		lastRun = task.CreatedAt
	}
	if task.Metadata.Schedule != "" {
		schedule, err := cronParser.Parse(task.Metadata.Schedule)
		if err != nil {
			return false, err
		}
		next := schedule.Next(time.UnixMilli(lastRun))
		return !next.After(now), nil
	}
	if task.Metadata.UpdateInterval > 0 {
		return now.UnixMilli()-lastRun >= task.Metadata.UpdateInterval, nil
	}
	return true, nil
}

func (s *Service) executeTask(ctx context.Context, task *models.Task) error {
	worker := s.rt.GetTaskWorker(task.Name)
	if worker == nil {
		return fmt.Errorf("no task worker registered for %q", task.Name)
	}

	if worker.Validate != nil {
		ok, err := worker.Validate(ctx, s.rt, nil, nil)
		if err != nil {
			return fmt.Errorf("validate task %s: %w", task.Name, err)
		}
		if !ok {
			s.logger.Debug("task worker declined task", "task", task.Name)
			return nil
		}
	}

	if err := worker.Execute(ctx, s.rt, task.Metadata.Options, task); err != nil {
		return fmt.Errorf("execute task %s: %w", task.Name, err)
	}

	if task.HasTag(models.TagRepeat) {
		task.Metadata.UpdatedAt = time.Now().UnixMilli()
		if err := s.rt.UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("reschedule task %s: %w", task.Name, err)
		}
		return nil
	}
	if err := s.rt.DeleteTask(ctx, task.ID); err != nil {
		return fmt.Errorf("delete one-shot task %s: %w", task.Name, err)
	}
	return nil
}
