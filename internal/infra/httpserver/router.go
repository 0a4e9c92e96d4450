// Package httpserver serves the diagnostics endpoints of the bot.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"questioner_bot/internal/domain/job"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type JobLister interface {
	ListActive(ctx context.Context) ([]*job.Job, error)
}

type jobDTO struct {
	ID        string          `json:"id"`
	Func      string          `json:"func"`
	Kind      job.Kind        `json:"kind"`
	Interval  string          `json:"interval,omitempty"`
	NextRunAt time.Time       `json:"next_run_at"`
	Args      json.RawMessage `json:"args,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func NewRouter(jobs JobLister, logger *logrus.Entry) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/jobs", func(w http.ResponseWriter, r *http.Request) {
		list, err := jobs.ListActive(r.Context())
		if err != nil {
			logger.WithError(err).WithField("request_id", chimw.GetReqID(r.Context())).Error("Failed to list jobs")
			http.Error(w, "failed to list jobs", http.StatusInternalServerError)
			return
		}

		out := make([]jobDTO, 0, len(list))
		for _, j := range list {
			dto := jobDTO{
				ID:        j.ID,
				Func:      j.Func,
				Kind:      j.Kind,
				NextRunAt: j.NextRunAt,
				Args:      j.Args,
				CreatedAt: j.CreatedAt,
			}
			if j.Kind == job.KindInterval {
				dto.Interval = j.Interval.String()
			}
			out = append(out, dto)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	return r
}

// New wraps the router into a server with the timeouts used in production.
func New(addr string, jobs JobLister, logger *logrus.Entry) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(jobs, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
