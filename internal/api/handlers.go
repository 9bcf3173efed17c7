package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/mediafetch/internal/config"
	"github.com/JakeFAU/mediafetch/internal/download"
)

const maxBatchItems = 500

type submitRequest struct {
	URL      string          `json:"url"`
	Filename string          `json:"filename"`
	Origin   download.Origin `json:"origin"`
}

type batchRequest struct {
	Items  []download.BatchItem `json:"items"`
	Origin download.Origin      `json:"origin"`
}

type batchResult struct {
	URL   string `json:"url"`
	JobID string `json:"job_id,omitempty"`
	Error string `json:"error,omitempty"`
}

type canonicalizeRequest struct {
	URL     string `json:"url"`
	PageURL string `json:"page_url"`
}

// settingsView is the wire form of config.Settings. Durations travel as
// milliseconds.
type settingsView struct {
	MaxConcurrent int    `json:"max_concurrent"`
	MaxAttempts   int    `json:"max_attempts"`
	RetryDelayMS  int64  `json:"retry_delay_ms"`
	AutoRetry     bool   `json:"auto_retry"`
	Notifications bool   `json:"notifications"`
	DownloadPath  string `json:"path"`
}

type settingsPatchRequest struct {
	MaxConcurrent *int    `json:"max_concurrent"`
	MaxAttempts   *int    `json:"max_attempts"`
	RetryDelayMS  *int64  `json:"retry_delay_ms"`
	AutoRetry     *bool   `json:"auto_retry"`
	Notifications *bool   `json:"notifications"`
	DownloadPath  *string `json:"path"`
}

func toSettingsView(s config.Settings) settingsView {
	return settingsView{
		MaxConcurrent: s.MaxConcurrent,
		MaxAttempts:   s.MaxAttempts,
		RetryDelayMS:  s.RetryDelay.Milliseconds(),
		AutoRetry:     s.AutoRetry,
		Notifications: s.Notifications,
		DownloadPath:  s.DownloadPath,
	}
}

func (p settingsPatchRequest) toPatch() config.SettingsPatch {
	patch := config.SettingsPatch{
		MaxConcurrent: p.MaxConcurrent,
		MaxAttempts:   p.MaxAttempts,
		AutoRetry:     p.AutoRetry,
		Notifications: p.Notifications,
		DownloadPath:  p.DownloadPath,
	}
	if p.RetryDelayMS != nil {
		d := time.Duration(*p.RetryDelayMS) * time.Millisecond
		patch.RetryDelay = &d
	}
	return patch
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jobID, err := s.engine.Submit(r.Context(), req.URL, req.Origin, download.Overrides{Filename: req.Filename})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items required")
		return
	}
	if len(req.Items) > maxBatchItems {
		writeError(w, http.StatusBadRequest, "too many items")
		return
	}
	results, err := s.engine.SubmitBatch(r.Context(), req.Items, req.Origin)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	out := make([]batchResult, len(results))
	for i, res := range results {
		out[i] = batchResult{URL: res.URL, JobID: res.JobID}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"results": out})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.Job(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if snap.Jobs == nil {
		snap.Jobs = []download.Job{}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.engine.Settings(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsView(settings))
}

func (s *Server) patchConfig(w http.ResponseWriter, r *http.Request) {
	var req settingsPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	settings, err := s.engine.UpdateConfig(r.Context(), req.toPatch())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsView(settings))
}

func (s *Server) canonicalize(w http.ResponseWriter, r *http.Request) {
	var req canonicalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	res := s.enhancer.Enhance(r.Context(), req.URL, req.PageURL)
	payload := map[string]any{
		"url":      res.URL,
		"enhanced": res.Enhanced,
		"rule":     res.Rule,
	}
	if res.Probed {
		payload["probe"] = res.Probe.String()
	}
	writeJSON(w, http.StatusOK, payload)
}
