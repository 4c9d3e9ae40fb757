package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sjawhar/ghost-dictate/internal/audio"
	"github.com/sjawhar/ghost-dictate/internal/realtime"
	"github.com/sjawhar/ghost-dictate/internal/session"
	"github.com/sjawhar/ghost-dictate/internal/storage"
	"github.com/sjawhar/ghost-dictate/internal/transcribe"
)

const controlTimeout = 15 * time.Second

var dictationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type DictationStore interface {
	GetDictationsByDate(date string) ([]storage.Dictation, error)
	GetDictation(id string) (storage.Dictation, error)
	GetSegments(dictationID string) ([]transcribe.Segment, error)
	GetDates() ([]string, error)
}

func registerAPIRoutes(mux *http.ServeMux, store DictationStore, controls ControlHooks, audioDir string, logger *slog.Logger) {
	mux.HandleFunc("GET /api/dictations", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}

		dictations, err := store.GetDictationsByDate(date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list dictations: %v", err))
			return
		}
		if dictations == nil {
			dictations = []storage.Dictation{}
		}

		writeJSON(w, http.StatusOK, dictations)
	})

	mux.HandleFunc("GET /api/dictations/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !validDictationID(id) {
			writeJSONError(w, http.StatusForbidden, "invalid dictation id")
			return
		}

		dictation, err := store.GetDictation(id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get dictation: %v", err))
			return
		}

		segments, err := store.GetSegments(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dictation segments: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"dictation": dictation,
			"segments":  segments,
		})
	})

	mux.HandleFunc("GET /api/dictations/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !validDictationID(id) {
			writeJSONError(w, http.StatusForbidden, "invalid dictation id")
			return
		}

		dictation, err := store.GetDictation(id)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "dictation not found")
			return
		}

		if dictation.AudioPath == "" {
			writeJSONError(w, http.StatusNotFound, "audio not available")
			return
		}

		cleanPath, ok := withinDir(audioDir, dictation.AudioPath)
		if !ok {
			writeJSONError(w, http.StatusForbidden, "invalid audio path")
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "audio file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat audio: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", contentTypeForAudio(cleanPath))
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})

	mux.HandleFunc("GET /api/dates", func(w http.ResponseWriter, r *http.Request) {
		dates, err := store.GetDates()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
			return
		}
		if dates == nil {
			dates = []string{}
		}
		writeJSON(w, http.StatusOK, dates)
	})

	mux.HandleFunc("POST /api/recording/start", func(w http.ResponseWriter, r *http.Request) {
		runControl(w, r, "start", controls.StartRecording, controls, logger)
	})

	mux.HandleFunc("POST /api/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		runControl(w, r, "stop", controls.StopRecording, controls, logger)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		status := Status{State: string(realtime.StateIdle)}
		if controls.Status != nil {
			status = controls.Status()
		}
		var warnings []string
		if controls.Warnings != nil {
			warnings = controls.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":        status.State,
			"recording":    status.Recording,
			"dictation_id": status.DictationID,
			"warnings":     warnings,
		})
	})
}

func runControl(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context) error, controls ControlHooks, logger *slog.Logger) {
	if fn == nil {
		writeJSONError(w, http.StatusNotImplemented, "recording control not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		status := controlErrorStatus(err)
		logger.Warn("recording_control_failed",
			slog.String("action", action),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		writeJSONError(w, status, err.Error())
		return
	}

	if controls.OnStatusChanged != nil && controls.Status != nil {
		controls.OnStatusChanged(controls.Status())
	}
	w.WriteHeader(http.StatusNoContent)
}

func controlErrorStatus(err error) int {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, realtime.ErrMisuse), errors.Is(err, audio.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, realtime.ErrConnectFailed), errors.Is(err, realtime.ErrConnectTimeout):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validDictationID(id string) bool {
	return dictationIDPattern.MatchString(id)
}

// withinDir resolves p and reports whether it lies inside dir.
func withinDir(dir, p string) (string, bool) {
	cleanPath := filepath.Clean(p)
	if cleanPath == "" || cleanPath == "." || cleanPath == ".." {
		return "", false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return absPath, true
}

func contentTypeForAudio(path string) string {
	ext := filepath.Ext(path)
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
