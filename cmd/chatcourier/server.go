package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"chatcourier/internal/database"
	"chatcourier/internal/middleware"
	"chatcourier/internal/models"
	"chatcourier/internal/queue"
	"chatcourier/internal/ratelimit"
	"chatcourier/internal/reminder"
	"chatcourier/internal/service"
)

type Server struct {
	router      *mux.Router
	logger      *logrus.Logger
	intake      *service.IntakeService
	queueSvc    *queue.Service
	processor   *queue.Processor
	limiter     *ratelimit.Limiter
	reminderSvc *reminder.Service
	server      *http.Server
}

func NewServer(cfg models.ServerConfig, intake *service.IntakeService, queueSvc *queue.Service, processor *queue.Processor, limiter *ratelimit.Limiter, reminderSvc *reminder.Service, logger *logrus.Logger) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		logger:      logger,
		intake:      intake,
		queueSvc:    queueSvc,
		processor:   processor,
		limiter:     limiter,
		reminderSvc: reminderSvc,
	}
	s.router.Use(middleware.Observability(logger))
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSec) * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	s.router.HandleFunc("/webhook/events", s.handleEvent()).Methods(http.MethodPost)

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/queue", s.handleQueueSnapshot()).Methods(http.MethodGet)
	admin.HandleFunc("/queue/{id}", s.handleQueueItem()).Methods(http.MethodGet)
	admin.HandleFunc("/queue/{id}", s.handleQueueCancel()).Methods(http.MethodDelete)
	admin.HandleFunc("/owners/{owner}/rate", s.handleOwnerRate()).Methods(http.MethodGet)
	admin.HandleFunc("/owners/{owner}/timezone", s.handleOwnerTimezone()).Methods(http.MethodPut)
	admin.HandleFunc("/owners/{owner}/reminders", s.handleOwnerReminders()).Methods(http.MethodGet)
	admin.HandleFunc("/owners/{owner}/reminders", s.handleReminderCreate()).Methods(http.MethodPost)
	admin.HandleFunc("/owners/{owner}/reminders", s.handleReminderCancelAll()).Methods(http.MethodDelete)
	admin.HandleFunc("/owners/{owner}/reminders/{id}", s.handleReminderCancel()).Methods(http.MethodDelete)
}

func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":            "ok",
			"processor_running": s.processor.Running(),
		})
	}
}

func (s *Server) handleEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event models.InboundEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if event.Kind == "" {
			event.Kind = models.EventKindText
		}

		outcome, id, err := s.intake.HandleEvent(r.Context(), &event)
		if err != nil {
			s.logger.WithError(err).Error("Event intake failed")
			writeError(w, http.StatusInternalServerError, "intake failed")
			return
		}

		status := http.StatusAccepted
		switch outcome {
		case models.IntakeDuplicate:
			status = http.StatusOK
		case models.IntakeRateLimited:
			status = http.StatusTooManyRequests
		case models.IntakeUnauthorized:
			status = http.StatusForbidden
		}
		writeJSON(w, status, map[string]interface{}{
			"outcome": outcome,
			"id":      id,
		})
	}
}

func (s *Server) handleQueueSnapshot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := s.queueSvc.Snapshot(r.Context())
		if err != nil {
			s.logger.WithError(err).Error("Queue snapshot failed")
			writeError(w, http.StatusInternalServerError, "snapshot failed")
			return
		}
		snapshot.ProcessorRunning = s.processor.Running()
		writeJSON(w, http.StatusOK, snapshot)
	}
}

func (s *Server) handleQueueItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid item id")
			return
		}
		item, err := s.queueSvc.GetStatus(r.Context(), id)
		if err != nil {
			if errors.Is(err, database.ErrItemNotFound) {
				writeError(w, http.StatusNotFound, "item not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (s *Server) handleQueueCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid item id")
			return
		}
		if err := s.queueSvc.Cancel(r.Context(), id); err != nil {
			if errors.Is(err, database.ErrItemNotFound) {
				writeError(w, http.StatusConflict, "item is not pending")
				return
			}
			writeError(w, http.StatusInternalServerError, "cancel failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) handleOwnerRate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := mux.Vars(r)["owner"]
		stats, err := s.limiter.Stats(r.Context(), owner)
		if err != nil {
			s.logger.WithError(err).Error("Rate stats lookup failed")
			writeError(w, http.StatusInternalServerError, "stats lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (s *Server) handleOwnerTimezone() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := mux.Vars(r)["owner"]
		var body struct {
			Timezone string `json:"timezone"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		normalized, err := s.reminderSvc.SetOwnerTimezone(r.Context(), owner, body.Timezone)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"timezone": normalized})
	}
}

func (s *Server) handleOwnerReminders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := mux.Vars(r)["owner"]
		reminders, err := s.reminderSvc.ListPending(r.Context(), owner)
		if err != nil {
			s.logger.WithError(err).Error("Reminder listing failed")
			writeError(w, http.StatusInternalServerError, "listing failed")
			return
		}
		writeJSON(w, http.StatusOK, reminders)
	}
}

func (s *Server) handleReminderCreate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := mux.Vars(r)["owner"]
		var body struct {
			Text          string `json:"text"`
			ScheduledTime string `json:"scheduledTime"`
			Timezone      string `json:"timezone"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		created, err := s.reminderSvc.Create(r.Context(), owner, body.Text, body.ScheduledTime, body.Timezone)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (s *Server) handleReminderCancel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid reminder id")
			return
		}
		if err := s.reminderSvc.Cancel(r.Context(), id); err != nil {
			if errors.Is(err, database.ErrReminderNotFound) {
				writeError(w, http.StatusNotFound, "reminder not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "cancel failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func (s *Server) handleReminderCancelAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := mux.Vars(r)["owner"]
		cancelled, err := s.reminderSvc.CancelAll(r.Context(), owner)
		if err != nil {
			s.logger.WithError(err).Error("Reminder cancel-all failed")
			writeError(w, http.StatusInternalServerError, "cancel failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"cancelled": cancelled})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
