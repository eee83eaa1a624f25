// ABOUTME: HTTP API handlers for reviews, the event feed, and demo controls
// ABOUTME: Exposes the orchestrator and analyzer over JSON and SSE endpoints

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/scribe-gateway/internal/analysis"
	"github.com/2389/scribe-gateway/internal/auth"
	"github.com/2389/scribe-gateway/internal/config"
	"github.com/2389/scribe-gateway/internal/events"
	"github.com/2389/scribe-gateway/internal/orchestrator"
	"github.com/2389/scribe-gateway/internal/store"
)

// WebhookRequest is the JSON request body for POST /webhook. The changed-file
// list arrives either as one comma-separated string or as an array of paths.
type WebhookRequest struct {
	ChangedFiles FileList `json:"changed_files"`
}

// FileList decodes from either a JSON string ("a,b") or an array of strings.
type FileList []string

func (l *FileList) UnmarshalJSON(data []byte) error {
	var joined string
	if err := json.Unmarshal(data, &joined); err == nil {
		*l = splitFileList(joined)
		return nil
	}

	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return fmt.Errorf("changed_files must be a string or an array of strings")
	}
	*l = paths
	return nil
}

// splitFileList splits a comma-separated path list, dropping empty entries.
func splitFileList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EditReviewRequest is the JSON request body for POST /reviews/{id}/edit.
type EditReviewRequest struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

// AccessLevelRequest is the JSON request body for POST /access-level.
type AccessLevelRequest struct {
	Level string `json:"level"`
}

// FixGapsRequest is the JSON request body for POST /fix-gaps.
type FixGapsRequest struct {
	GapIDs []string `json:"gap_ids"`
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	AccessLevel    string `json:"access_level"`
	DocsRepo       string `json:"docs_repo"`
	CodeRepo       string `json:"code_repo"`
	PendingReviews int    `json:"pending_reviews"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus handles GET /status requests.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	pending, err := g.store.ListReviews(r.Context(), store.StatusPending)
	if err != nil {
		g.logger.Error("failed to count pending reviews", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, StatusResponse{
		AccessLevel:    g.currentAccessLevel(),
		DocsRepo:       g.config.GitHub.DocsOwner + "/" + g.config.GitHub.DocsRepo,
		CodeRepo:       g.config.GitHub.CodeOwner + "/" + g.config.GitHub.CodeRepo,
		PendingReviews: len(pending),
	})
}

// handleEvents handles GET /events requests. It streams every broadcast event
// over SSE until the client disconnects. There is no replay: clients joining
// late miss prior events.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	setSSEHeaders(w)

	ch, subID := g.broadcaster.Subscribe(r.Context())
	g.logger.Debug("event stream opened", "sub_id", subID)

	g.writeSSEEvent(w, "connected", map[string]string{"subscription": subID})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			g.writeSSEEvent(w, event.Type, event)
			flusher.Flush()
		}
	}
}

// handleListReviews handles GET /reviews requests.
// Supports optional ?status=pending|merged filtering (default pending).
func (g *Gateway) handleListReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = store.StatusPending
	}
	switch status {
	case store.StatusPending, store.StatusApproved, store.StatusMerged:
	default:
		g.sendJSONError(w, http.StatusBadRequest, "unknown status "+status)
		return
	}

	reviews, err := g.store.ListReviews(r.Context(), status)
	if err != nil {
		g.logger.Error("failed to list reviews", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

// handleReviewRoutes dispatches /reviews/{id} and its sub-paths.
func (g *Gateway) handleReviewRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/reviews/")
	idPart, action, _ := strings.Cut(rest, "/")

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid review id")
		return
	}

	switch action {
	case "":
		g.handleGetReview(w, r, id)
	case "preview":
		g.handleReviewPreview(w, r, id)
	case "approve":
		g.requireAdmin(w, r, http.MethodPost, func() { g.handleApproveReview(w, r, id) })
	case "edit":
		g.requireAdmin(w, r, http.MethodPost, func() { g.handleEditReview(w, r, id) })
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// requireAdmin enforces the method and admin secret before running fn.
func (g *Gateway) requireAdmin(w http.ResponseWriter, r *http.Request, method string, fn func()) {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	auth.RequireAdmin(g.config.Auth.AdminSecret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		fn()
	})).ServeHTTP(w, r)
}

// handleGetReview handles GET /reviews/{id} requests.
func (g *Gateway) handleGetReview(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	review, err := g.store.GetReview(r.Context(), id)
	if err != nil {
		g.writeReviewError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, review)
}

// handleReviewPreview handles GET /reviews/{id}/preview requests.
// Renders a review file's proposed content as HTML. The file is selected with
// ?file=; a single-file review needs no parameter.
func (g *Gateway) handleReviewPreview(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	review, err := g.store.GetReview(r.Context(), id)
	if err != nil {
		g.writeReviewError(w, err)
		return
	}

	path := r.URL.Query().Get("file")
	if path == "" {
		if len(review.Files) != 1 {
			g.sendJSONError(w, http.StatusBadRequest, "file parameter required for multi-file reviews")
			return
		}
		for p := range review.Files {
			path = p
		}
	}

	change, ok := review.Files[path]
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, "file not part of review")
		return
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(change.After), &buf); err != nil {
		g.logger.Error("failed to render markdown", "review", id, "file", path, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "rendering failed")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleApproveReview handles POST /reviews/{id}/approve requests.
func (g *Gateway) handleApproveReview(w http.ResponseWriter, r *http.Request, id int64) {
	review, err := g.orch.ApproveReview(r.Context(), id)
	if err != nil {
		g.writeReviewError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, review)
}

// handleEditReview handles POST /reviews/{id}/edit requests.
func (g *Gateway) handleEditReview(w http.ResponseWriter, r *http.Request, id int64) {
	var req EditReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.File == "" {
		g.sendJSONError(w, http.StatusBadRequest, "file is required")
		return
	}

	review, err := g.orch.EditReviewFile(r.Context(), id, req.File, req.Content)
	if err != nil {
		g.writeReviewError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, review)
}

// handleWebhook handles POST /webhook requests carrying a push notification
// from the code repository. Propagation runs in the background; the endpoint
// acknowledges immediately.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !auth.CheckWebhookSecret(r, g.config.Auth.WebhookSecret) {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	g.broadcaster.Publish(events.TypeWebhookReceived, map[string]any{
		"changedFiles": req.ChangedFiles,
	})

	mode := g.currentAccessLevel()
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := g.orch.PropagateChanges(ctx, req.ChangedFiles, mode); err != nil {
			g.logger.Error("webhook propagation failed", "error", err)
		}
	}()

	g.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleTrigger handles POST /trigger requests, kicking off the canned demo.
func (g *Gateway) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := g.orch.TriggerDemo(r.Context(), g.currentAccessLevel()); err != nil {
		g.logger.Error("demo trigger failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// handleReset handles POST /reset requests.
func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := g.orch.Reset(r.Context()); err != nil {
		g.logger.Error("reset failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleAccessLevel handles GET and POST /access-level requests.
func (g *Gateway) handleAccessLevel(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.writeJSON(w, http.StatusOK, map[string]string{"level": g.currentAccessLevel()})

	case http.MethodPost:
		var req AccessLevelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Level != config.AccessLevelHigh && req.Level != config.AccessLevelMedium {
			g.sendJSONError(w, http.StatusBadRequest,
				fmt.Sprintf("level must be %q or %q", config.AccessLevelHigh, config.AccessLevelMedium))
			return
		}
		g.setAccessLevel(req.Level)
		g.writeJSON(w, http.StatusOK, map[string]string{"level": req.Level})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleGaps handles GET /gaps requests, returning the gap list and summary
// without running the staged analysis.
func (g *Gateway) handleGaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, g.analyzer.ReportNow())
}

// handleAnalyze handles GET /analyze requests. Blocks for the full staged
// schedule, then returns the report.
func (g *Gateway) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	report, err := g.analyzer.RunBlocking(r.Context())
	if err != nil {
		// Client went away mid-run
		g.logger.Debug("analysis aborted", "error", err)
		return
	}
	g.writeJSON(w, http.StatusOK, report)
}

// handleAnalyzeStream handles GET /analyze/stream requests. Streams each
// staged progress line as an SSE event, then the final report.
func (g *Gateway) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	setSSEHeaders(w)

	report, err := g.analyzer.Run(r.Context(), func(p analysis.Progress) {
		g.writeSSEEvent(w, "progress", p)
		flusher.Flush()
	})
	if err != nil {
		g.logger.Debug("streamed analysis aborted", "error", err)
		return
	}

	g.writeSSEEvent(w, "result", report)
	g.writeSSEEvent(w, "done", map[string]string{})
	flusher.Flush()
}

// handleFixGaps handles POST /fix-gaps requests.
func (g *Gateway) handleFixGaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req FixGapsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	review, err := g.orch.ApplyGapFixes(r.Context(), req.GapIDs)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoGapsSelected) {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Error("gap fix failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	g.writeJSON(w, http.StatusCreated, review)
}

// writeReviewError maps review lifecycle errors onto HTTP statuses.
func (g *Gateway) writeReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "review not found")
	case errors.Is(err, store.ErrFileNotInReview):
		g.sendJSONError(w, http.StatusBadRequest, "file not part of review")
	case errors.Is(err, orchestrator.ErrNoPullRequest):
		g.sendJSONError(w, http.StatusBadRequest, "review has no pull request")
	case errors.Is(err, orchestrator.ErrReviewClosed):
		g.sendJSONError(w, http.StatusConflict, "review is no longer open")
	case errors.Is(err, store.ErrStatusConflict):
		g.sendJSONError(w, http.StatusConflict, "review status changed concurrently")
	default:
		g.logger.Error("review operation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// setSSEHeaders sets the standard headers for an SSE response.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// writeJSON writes a JSON response with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
