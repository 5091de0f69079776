package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/lightsout/go/internal/ingest"
	"github.com/mcdev12/lightsout/go/internal/leaderboard"
	"github.com/mcdev12/lightsout/go/internal/photo"
	"github.com/mcdev12/lightsout/go/internal/session"
	"github.com/rs/zerolog/log"
)

// SessionController is the part of the session controller the facade drives
type SessionController interface {
	Stage(ctx context.Context) session.Stage
	Leaderboard() []leaderboard.Entry
	Register(ctx context.Context, p session.Profile) (session.Stage, error)
	Start(ctx context.Context) (session.Stage, error)
	Decide(ctx context.Context, d session.Decision) (session.Stage, error)
}

// Handler serves the JSON API and the display websocket
type Handler struct {
	controller  SessionController
	connections *ConnectionManager
}

// NewHandler creates a new facade handler
func NewHandler(controller SessionController, connections *ConnectionManager) *Handler {
	return &Handler{
		controller:  controller,
		connections: connections,
	}
}

type leaderboardResponse struct {
	Entries []leaderboard.RankedEntry `json:"entries"`
}

type decisionRequest struct {
	Decision session.Decision `json:"decision"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes registers the API and WebSocket routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stage", h.HandleGetStage)
	mux.HandleFunc("/api/leaderboard", h.HandleGetLeaderboard)
	mux.HandleFunc("/api/player", h.HandleRegisterPlayer)
	mux.HandleFunc("/api/start", h.HandleStart)
	mux.HandleFunc("/api/photo_decision", h.HandlePhotoDecision)
	mux.HandleFunc("/ws/stage", h.HandleStageConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

// HandleGetStage handles GET /api/stage
func (h *Handler) HandleGetStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Stage(r.Context()))
}

// HandleGetLeaderboard handles GET /api/leaderboard
func (h *Handler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Entries: leaderboard.Ranked(h.controller.Leaderboard()),
	})
}

// HandleRegisterPlayer handles POST /api/player
func (h *Handler) HandleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var profile session.Profile
	if err := decodeBody(w, r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stage, err := h.controller.Register(r.Context(), profile)
	if err != nil {
		writeControllerError(w, "register player", err)
		return
	}
	writeJSON(w, http.StatusOK, stage)
}

// HandleStart handles POST /api/start
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stage, err := h.controller.Start(r.Context())
	if err != nil {
		writeControllerError(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusOK, stage)
}

// HandlePhotoDecision handles POST /api/photo_decision
func (h *Handler) HandlePhotoDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req decisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	stage, err := h.controller.Decide(r.Context(), req.Decision)
	if err != nil {
		writeControllerError(w, "photo decision", err)
		return
	}
	writeJSON(w, http.StatusOK, stage)
}

// HandleStageConnection upgrades a display to the stage stream
func (h *Handler) HandleStageConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connections.UpgradeConnection(w, r); err != nil {
		// the upgrader has already answered the client
		log.Error().
			Err(err).
			Str("remote", r.RemoteAddr).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connections.GetConnectionStats())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	return dec.Decode(v)
}

// statusFor maps controller errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidProfile), errors.Is(err, session.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidStage),
		errors.Is(err, session.ErrNoPendingRecord),
		errors.Is(err, session.ErrCaptureInProgress):
		return http.StatusConflict
	case errors.Is(err, photo.ErrUnavailable), errors.Is(err, ingest.ErrDisconnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrCaptureFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeControllerError(w http.ResponseWriter, action string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("action", action).Int("status", status).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("action", action).Int("status", status).Msg("request rejected")
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
