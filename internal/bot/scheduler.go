package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/edgard/tgmirror/internal/bot/tasks"
	"github.com/edgard/tgmirror/internal/config"
)

// Scheduler runs the housekeeping tasks on their cron schedules.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.SchedulerConfig
	taskMap   map[string]tasks.ScheduledTaskFunc
	mu        sync.Mutex
	running   bool
	scheduled int
}

// NewScheduler creates a scheduler for the registered tasks enabled in cfg.
func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
		cfg:       cfg,
		taskMap:   taskMap,
	}, nil
}

// Start schedules every enabled task and starts ticking. Tasks receive ctx,
// so cancelling it aborts running jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}

	if s.cfg == nil || len(s.cfg.Tasks) == 0 {
		s.logger.Warn("No scheduler tasks configured.")
	} else {
		for name, taskConfig := range s.cfg.Tasks {
			if err := s.schedule(ctx, name, taskConfig); err != nil {
				s.logger.Error("Failed to schedule task", "task_name", name, "schedule", taskConfig.Schedule, "error", err)
			}
		}
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "tasks_scheduled", s.scheduled)
	return nil
}

func (s *Scheduler) schedule(ctx context.Context, name string, taskConfig config.TaskConfig) error {
	if !taskConfig.Enabled {
		s.logger.Info("Skipping disabled task", "task_name", name)
		return nil
	}
	taskFunc, ok := s.taskMap[name]
	if !ok {
		s.logger.Warn("Scheduled task configured but not registered, skipping", "task_name", name)
		return nil
	}
	if taskConfig.Schedule == "" {
		return errors.New("empty schedule")
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(taskConfig.Schedule, true),
		gocron.NewTask(func() {
			s.logger.Info("Running scheduled task", "task_name", name)
			start := time.Now()
			if err := taskFunc(ctx); err != nil {
				s.logger.Error("Scheduled task failed", "task_name", name, "error", err)
			}
			s.logger.Info("Finished scheduled task", "task_name", name, "duration", time.Since(start))
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	s.logger.Info("Scheduled task", "task_name", name, "schedule", taskConfig.Schedule)
	s.scheduled++
	return nil
}

// Scheduled returns how many jobs were registered by Start.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

// Stop shuts the scheduler down, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped.")
	}
	s.running = false
	return err
}
