package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/leaky-pager/pkg/admission"
	"github.com/Sternrassler/leaky-pager/pkg/query"
)

const readyTimeout = 2 * time.Second

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	q, err := query.Parse(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.admitter.Admit(r.Context(), q)
	if err != nil {
		if !errors.Is(err, admission.ErrStopped) {
			s.logger.Warn().Err(err).Msg("Admission request abandoned")
		}
		http.Error(w, "admission controller unavailable", http.StatusServiceUnavailable)
		return
	}

	d.Snapshot.WriteHeaders(w.Header())

	if !d.Granted {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(d.Err().Error()))
		return
	}

	records := d.Records
	if records == nil {
		records = []json.RawMessage{}
	}
	body, err := json.Marshal(records)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode records")
		http.Error(w, "failed to encode records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.checks)+1)

	snap, err := s.admitter.Snapshot(ctx)
	if err != nil {
		status = http.StatusServiceUnavailable
		checks["admission"] = err.Error()
	} else {
		checks["admission"] = "ok"
	}

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	resp := map[string]any{"checks": checks}
	if err == nil {
		resp["bucket"] = snap
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
