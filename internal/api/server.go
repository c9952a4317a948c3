package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"taskhub/internal/auth"
	"taskhub/internal/domain"
	"taskhub/internal/jobs"
	"taskhub/internal/registry"
	"taskhub/internal/runtime"
	"taskhub/internal/scheduler"
	"taskhub/internal/store"
)

type Server struct {
	r        *chi.Mux
	rt       *runtime.Runtime
	reg      *registry.Registry
	users    *store.UserStore
	tokens   *auth.TokenService
	sched    *scheduler.Service
	sender   jobs.Sender
	builders map[string]jobs.Builder
	validate *validator.Validate
}

type Config struct {
	Runtime   *runtime.Runtime
	Registry  *registry.Registry
	Users     *store.UserStore
	Tokens    *auth.TokenService
	Scheduler *scheduler.Service
	Sender    jobs.Sender
	Builders  map[string]jobs.Builder
}

func NewServer(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{
		r:        r,
		rt:       cfg.Runtime,
		reg:      cfg.Registry,
		users:    cfg.Users,
		tokens:   cfg.Tokens,
		sched:    cfg.Scheduler,
		sender:   cfg.Sender,
		builders: cfg.Builders,
		validate: validator.New(),
	}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Post("/api/tasks", s.submitTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Get("/api/queue", s.queueStatus)

	r.Post("/api/schedules", s.createSchedule)
	r.Get("/api/schedules", s.listSchedules)
	r.Get("/api/schedules/{id}", s.getSchedule)
	r.Delete("/api/schedules/{id}", s.deleteSchedule)

	r.Post("/api/auth/register", s.register)
	r.Post("/api/auth/token", s.token)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/users", s.listUsers)
		r.Get("/api/users/me", s.me)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	c := s.reg.Counts()
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "taskhub_up 1\n")
	fmt.Fprintf(w, "taskhub_queue_depth %d\n", s.rt.Depth())
	fmt.Fprintf(w, "taskhub_tasks_total %d\n", c.Total)
	fmt.Fprintf(w, "taskhub_tasks_queued %d\n", c.Queued)
	fmt.Fprintf(w, "taskhub_tasks_processing %d\n", c.Processing)
	fmt.Fprintf(w, "taskhub_tasks_completed %d\n", c.Completed)
	fmt.Fprintf(w, "taskhub_tasks_failed %d\n", c.Failed)
}

type submitReq struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type submitResp struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	work, err := jobs.Build(s.builders, req.Type, req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.rt.Submit(req.Type, work)
	if err != nil {
		if errors.Is(err, runtime.ErrQueueFull) || errors.Is(err, runtime.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, submitResp{TaskID: id, Status: string(domain.StatusQueued)})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reg.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List(50))
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	c := s.reg.Counts()
	writeJSON(w, http.StatusOK, map[string]int{
		"queue_size":       s.rt.Depth(),
		"total_tasks":      c.Total,
		"queued_tasks":     c.Queued,
		"processing_tasks": c.Processing,
		"completed_tasks":  c.Completed,
		"failed_tasks":     c.Failed,
	})
}

type createScheduleReq struct {
	Name     string          `json:"name" validate:"required"`
	CronExpr string          `json:"cron_expr" validate:"required"`
	TaskType string          `json:"task_type" validate:"required"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := scheduler.ValidateCronExpression(req.CronExpr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
		return
	}
	// reject unknown task types up front, not at first fire
	if _, err := jobs.Build(s.builders, req.TaskType, req.Payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched, err := s.sched.Add(req.Name, req.CronExpr, req.TaskType, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.List())
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.sched.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Remove(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "schedule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerReq struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type registerResp struct {
	User   domain.User `json:"user"`
	TaskID string      `json:"welcome_task_id,omitempty"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	id, err := s.users.Create(r.Context(), domain.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			writeError(w, http.StatusBadRequest, store.ErrEmailTaken.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Welcome delivery runs in the background; the account activates once the
	// mail goes out. Registration itself succeeds either way.
	taskID, err := s.rt.Submit("welcome_email", s.welcomeWork(id, req.Name, req.Email))
	if err != nil {
		writeJSON(w, http.StatusCreated, registerResp{User: user})
		return
	}
	writeJSON(w, http.StatusCreated, registerResp{User: user, TaskID: taskID})
}

func (s *Server) welcomeWork(userID int64, name, email string) runtime.UnitOfWork {
	return func(ctx context.Context) error {
		body := fmt.Sprintf("Welcome to our site, %s!", name)
		if err := s.sender.Send(ctx, email, "Registration complete", body); err != nil {
			return err
		}
		return s.users.Activate(ctx, userID)
	}
}

type tokenReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResp struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var req tokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user does not exist")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "incorrect password")
		return
	}
	if !user.Active {
		writeError(w, http.StatusBadRequest, "user is not active")
		return
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokenResp{TokenType: "bearer", AccessToken: token})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := s.users.GetByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
