package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/fhir"
	"github.com/raaihank/scribe-sentinel/internal/privacy"
	"github.com/raaihank/scribe-sentinel/internal/scribe"
	"github.com/raaihank/scribe-sentinel/internal/soap"
	"github.com/raaihank/scribe-sentinel/internal/store"
	"github.com/raaihank/scribe-sentinel/internal/websocket"
)

type redactRequest struct {
	Text           string `json:"text"`
	IncludeMatches *bool  `json:"include_matches,omitempty"`
}

type redactResponse struct {
	RedactedText string          `json:"redacted_text"`
	Counts       map[string]int  `json:"entities_found"`
	Matches      []privacy.Match `json:"matches,omitempty"`
}

type streamResponse struct {
	RedactedText string           `json:"redacted_text"`
	Entities     []privacy.Record `json:"entities"`
	Advisory     string           `json:"advisory"`
}

type generateRequest struct {
	Transcript string `json:"transcript"`
}

type soapSections struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

type generateResponse struct {
	SOAP             soapSections `json:"soap"`
	ICD10Codes       []string     `json:"icd10_codes"`
	ProcessingTimeMS int64        `json:"processing_time_ms"`
}

type noteRequest struct {
	Transcript  string `json:"transcript"`
	PatientID   string `json:"patient_id"`
	EncounterID string `json:"encounter_id"`
}

type noteResponse struct {
	ID          string         `json:"id"`
	PatientID   string         `json:"patient_id,omitempty"`
	EncounterID string         `json:"encounter_id,omitempty"`
	Note        soap.Note      `json:"note"`
	Bundle      interface{}    `json:"bundle"`
	Counts      map[string]int `json:"entities_found"`
	Cached      bool           `json:"cached"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
}

// handleHealth reports liveness plus the reachability of each backend
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"completion": check(ctx, s.deps.Backend.Ping)}
	if s.deps.Notes != nil {
		checks["database"] = check(ctx, s.deps.Notes.Ping)
	}
	if s.deps.Cache != nil {
		checks["cache"] = check(ctx, s.deps.Cache.Ping)
	}

	status := "healthy"
	for _, v := range checks {
		if v != "ok" {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

func check(ctx context.Context, ping func(context.Context) error) string {
	if err := ping(ctx); err != nil {
		return "unavailable"
	}
	return "ok"
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":             "scribe-sentinel",
		"version":          version,
		"privacy_enabled":  s.deps.Detector.Enabled(),
		"pre_redact":       s.config.Privacy.PreRedact,
		"active_rules":     s.deps.Detector.GetEnabledRules(),
		"model":            s.deps.Backend.Model(),
		"cache_enabled":    s.deps.Cache != nil,
		"database_enabled": s.deps.Notes != nil,
		"advisory":         privacy.Advisory,
	})
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	start := time.Now()
	report := s.deps.Detector.Redact(req.Text)
	s.publishRedaction(r, "api", report, start)

	includeMatches := s.config.Privacy.IncludeMatches
	if req.IncludeMatches != nil {
		includeMatches = *req.IncludeMatches
	}

	resp := redactResponse{RedactedText: report.RedactedText, Counts: report.Counts}
	if includeMatches {
		resp.Matches = report.Matches
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRedactStream(w http.ResponseWriter, r *http.Request) {
	var req redactRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	start := time.Now()
	report := s.deps.Detector.Redact(req.Text)
	s.publishRedaction(r, "stream", report, start)

	writeJSON(w, http.StatusOK, streamResponse{
		RedactedText: report.RedactedText,
		Entities:     report.Records(),
		Advisory:     privacy.Advisory,
	})
}

func (s *Server) publishRedaction(r *http.Request, source string, report *privacy.Report, start time.Time) {
	s.requestLogger(r).Debug("Text redacted",
		zap.String("source", source),
		zap.Int("total_findings", report.Total()),
	)
	s.deps.Hub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRedaction,
		RequestID: getRequestID(r.Context()),
		Data: websocket.RedactionEvent{
			Source:        source,
			Counts:        report.Counts,
			TotalFindings: report.Total(),
			ProcessingMS:  float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

func (s *Server) handleGenerateSOAP(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	result, err := s.deps.Scribe.Generate(r.Context(), scribe.Request{
		Transcript: req.Transcript,
		RequestID:  getRequestID(r.Context()),
	})
	if err != nil {
		s.logFailure(r, err)
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		SOAP: soapSections{
			Subjective: result.Note.Subjective,
			Objective:  result.Note.Objective,
			Assessment: result.Note.Assessment,
			Plan:       result.Note.Plan,
		},
		ICD10Codes:       result.Note.ICD10Codes,
		ProcessingTimeMS: result.ProcessingTime.Milliseconds(),
	})
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeErr(w, err)
		return
	}

	result, err := s.deps.Scribe.Generate(r.Context(), scribe.Request{
		Transcript:  req.Transcript,
		PatientID:   req.PatientID,
		EncounterID: req.EncounterID,
		RequestID:   getRequestID(r.Context()),
	})
	if err != nil {
		s.logFailure(r, err)
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, noteResponse{
		ID:          result.ID,
		PatientID:   req.PatientID,
		EncounterID: req.EncounterID,
		Note:        result.Note,
		Bundle:      result.Bundle,
		Counts:      result.Entities,
		Cached:      result.Cached,
	})
}

func (s *Server) logFailure(r *http.Request, err error) {
	s.requestLogger(r).Warn("Note generation failed",
		zap.String("error_class", scribe.ErrorClass(err)),
		zap.Error(err),
	)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Notes == nil {
		s.writeErr(w, scribe.ErrStoreUnavailable)
		return
	}

	opts := store.ListOptions{PatientID: r.URL.Query().Get("patient_id")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.writeErr(w, badRequest("limit must be a positive integer"))
			return
		}
		opts.Limit = limit
	}

	notes, err := s.deps.Notes.List(r.Context(), opts)
	if err != nil {
		s.requestLogger(r).Error("Failed to list notes", zap.Error(err))
		s.writeErr(w, scribe.ErrStoreUnavailable)
		return
	}

	resp := make([]noteResponse, 0, len(notes))
	for _, n := range notes {
		item, err := storedResponse(n)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		resp = append(resp, item)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notes": resp, "count": len(resp)})
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, ok := s.loadNote(w, r)
	if !ok {
		return
	}
	resp, err := storedResponse(note)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetNoteBundle(w http.ResponseWriter, r *http.Request) {
	note, ok := s.loadNote(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(note.Bundle)
}

func (s *Server) loadNote(w http.ResponseWriter, r *http.Request) (*store.StoredNote, bool) {
	if s.deps.Notes == nil {
		s.writeErr(w, scribe.ErrStoreUnavailable)
		return nil, false
	}

	id := strings.TrimSpace(mux.Vars(r)["id"])
	note, err := s.deps.Notes.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.requestLogger(r).Error("Failed to load note", zap.String("id", id), zap.Error(err))
			err = scribe.ErrStoreUnavailable
		}
		s.writeErr(w, err)
		return nil, false
	}
	return note, true
}

func storedResponse(n *store.StoredNote) (noteResponse, error) {
	counts, err := n.EntityCounts()
	if err != nil {
		return noteResponse{}, err
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(n.Bundle, &bundle); err != nil {
		return noteResponse{}, err
	}
	created := n.CreatedAt
	return noteResponse{
		ID:          n.ID,
		PatientID:   n.PatientID,
		EncounterID: n.EncounterID,
		Note:        n.Note(),
		Bundle:      &bundle,
		Counts:      counts,
		CreatedAt:   &created,
	}, nil
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable", "note cache not configured", false)
		return
	}
	stats, err := s.deps.Cache.Stats(r.Context())
	if err != nil {
		s.requestLogger(r).Error("Failed to read cache stats", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable", "note cache unavailable", false)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable", "note cache not configured", false)
		return
	}
	if err := s.deps.Cache.Clear(r.Context()); err != nil {
		s.requestLogger(r).Error("Failed to clear cache", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "cache_unavailable", "note cache unavailable", false)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
