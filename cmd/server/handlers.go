package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/healthcoach"
	"github.com/brunobiangulo/healthcoach/ingest"
	"github.com/brunobiangulo/healthcoach/store"
)

type handler struct {
	engine  healthcoach.Engine
	docsDir string
}

func newHandler(e healthcoach.Engine, docsDir string) *handler {
	return &handler{engine: e, docsDir: docsDir}
}

// POST /logs
// Accepts a single log entry as JSON.
func (h *handler) handleAddLog(w http.ResponseWriter, r *http.Request) {
	var entry store.UserLog
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if entry.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	id, err := h.engine.AddLog(r.Context(), entry)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store log")
		slog.Error("add log error", "user_id", entry.UserID, "error", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      id,
		"user_id": entry.UserID,
	})
}

// POST /logs/import
// Accepts a CSV body, or a multipart upload of a .csv/.xlsx export.
func (h *handler) handleImportLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.parseLogUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted := 0
	for _, entry := range logs {
		if _, err := h.engine.AddLog(r.Context(), entry); err != nil {
			writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("stored %d of %d entries before failing", inserted, len(logs)))
			slog.Error("log import error", "error", err)
			return
		}
		inserted++
	}

	writeJSON(w, http.StatusOK, map[string]int{"imported": inserted})
}

func (h *handler) parseLogUpload(r *http.Request) ([]store.UserLog, error) {
	if err := r.ParseMultipartForm(20 << 20); err == nil { // 20MB max
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("multipart request without 'file' field")
		}
		defer file.Close()

		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".csv":
			return ingest.ReadLogsCSV(file)
		case ".xlsx":
			// excelize needs a seekable source; spool the upload to disk.
			tmp, err := os.CreateTemp("", "logs-*.xlsx")
			if err != nil {
				return nil, fmt.Errorf("failed to process upload")
			}
			defer os.Remove(tmp.Name())
			if _, err := io.Copy(tmp, file); err != nil {
				tmp.Close()
				return nil, fmt.Errorf("failed to save upload")
			}
			tmp.Close()
			return ingest.ReadLogsXLSX(tmp.Name())
		default:
			return nil, fmt.Errorf("unsupported upload format %q", filepath.Ext(header.Filename))
		}
	}
	return ingest.ReadLogsCSV(r.Body)
}

// GET /logs?user_id=...&limit=7
func (h *handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	limit := 7
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	logs, err := h.engine.RecentLogs(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		slog.Error("list logs error", "user_id", userID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"logs":    logs,
	})
}

// POST /suggest
func (h *handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		UserID     string `json:"user_id"`
		Query      string `json:"query"`
		MaxResults int    `json:"max_results,omitempty"`
		TopK       int    `json:"top_k,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	var opts []healthcoach.SuggestOption
	if req.MaxResults > 0 && req.MaxResults <= 20 {
		opts = append(opts, healthcoach.WithMaxResults(req.MaxResults))
	}
	if req.TopK > 0 && req.TopK <= 50 {
		opts = append(opts, healthcoach.WithTopK(req.TopK))
	}

	res, err := h.engine.Suggest(ctx, req.UserID, req.Query, opts...)
	if err != nil {
		if errors.Is(err, healthcoach.ErrIndexNotReady) {
			writeError(w, http.StatusServiceUnavailable, "knowledge index not ready")
			return
		}
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) {
			status = 499 // client closed request
		}
		writeJSON(w, status, map[string]string{
			"error": "suggestion request failed",
			"stage": healthcoach.FailedStage(err),
		})
		slog.Error("suggest error", "user_id", req.UserID, "stage", healthcoach.FailedStage(err), "error", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// POST /index
// Rebuilds the knowledge index from the configured sources. Unchanged
// sources are skipped, so this is cheap when nothing changed.
func (h *handler) handleReindex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	chunks, err := indexChunks(h.docsDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load documents")
		slog.Error("reindex load error", "error", err)
		return
	}
	if err := h.engine.BuildIndex(ctx, chunks); err != nil {
		writeError(w, http.StatusInternalServerError, "index rebuild failed")
		slog.Error("reindex error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"chunks": len(chunks),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
