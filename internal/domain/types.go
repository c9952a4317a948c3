package domain

import "time"

type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TaskRecord tracks one background task from submission to completion.
// Records live for the lifetime of the process and are never deleted.
type TaskRecord struct {
	ID          string     `json:"task_id"`
	Type        string     `json:"type,omitempty"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// QueueCounts is a point-in-time aggregate over all task records.
type QueueCounts struct {
	Total      int `json:"total_tasks"`
	Queued     int `json:"queued_tasks"`
	Processing int `json:"processing_tasks"`
	Completed  int `json:"completed_tasks"`
	Failed     int `json:"failed_tasks"`
}

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type Schedule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CronExpr  string    `json:"cron_expr"`
	TaskType  string    `json:"task_type"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	NextRun   time.Time `json:"next_run"`
}
