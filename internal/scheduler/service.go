package scheduler

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"taskhub/internal/domain"
)

var ErrNotFound = errors.New("schedule not found")

// SubmitFunc hands a recurring task to the runtime. The scheduler does not
// build units of work itself; the API server wires its own dispatch here.
type SubmitFunc func(taskType string, payload json.RawMessage) (string, error)

// Service fires recurring task submissions from cron expressions. Schedules
// live in memory only, like the task records they produce.
type Service struct {
	cron   *cron.Cron
	submit SubmitFunc
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	schedule domain.Schedule
	cronID   cron.EntryID
}

func New(submit SubmitFunc, logger zerolog.Logger) *Service {
	return &Service{
		cron:    cron.New(),
		submit:  submit,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

func (s *Service) Start() { s.cron.Start() }

// Stop halts the cron runner and waits for any in-flight submission.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// Add registers a recurring submission. The expression is standard 5-field cron.
func (s *Service) Add(name, expr, taskType string, payload json.RawMessage) (domain.Schedule, error) {
	if err := ValidateCronExpression(expr); err != nil {
		return domain.Schedule{}, err
	}

	sched := domain.Schedule{
		ID:        "sch_" + uuid.NewString(),
		Name:      name,
		CronExpr:  expr,
		TaskType:  taskType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	cronID, err := s.cron.AddFunc(expr, func() {
		taskID, err := s.submit(taskType, payload)
		if err != nil {
			s.logger.Error().Err(err).Str("schedule_id", sched.ID).Str("schedule_name", name).Msg("failed to submit scheduled task")
			return
		}
		s.logger.Info().Str("schedule_id", sched.ID).Str("schedule_name", name).Str("task_id", taskID).Msg("scheduled task submitted")
	})
	if err != nil {
		return domain.Schedule{}, err
	}

	s.mu.Lock()
	s.entries[sched.ID] = entry{schedule: sched, cronID: cronID}
	s.mu.Unlock()
	return sched, nil
}

func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	s.cron.Remove(e.cronID)
	delete(s.entries, id)
	return nil
}

func (s *Service) Get(id string) (domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return domain.Schedule{}, ErrNotFound
	}
	sched := e.schedule
	sched.NextRun = s.cron.Entry(e.cronID).Next
	return sched, nil
}

func (s *Service) List() []domain.Schedule {
	s.mu.RLock()
	out := make([]domain.Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		sched := e.schedule
		sched.NextRun = s.cron.Entry(e.cronID).Next
		out = append(out, sched)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateCronExpression validates a cron expression.
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRunTime calculates the next run time for a cron expression.
func NextRunTime(expr string, from time.Time) (time.Time, error) {
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return cronSchedule.Next(from), nil
}
