// backend/internal/challenge/handler.go
package challenge

import (
	"encoding/json"
	"net/http"
	"strings"

	"challenge-system/internal/apperr"
	"challenge-system/internal/auth"
	"challenge-system/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type GenerateRequest struct {
	Difficulty string `json:"difficulty" validate:"required,oneof=easy medium hard"`
}

type Handler struct {
	service  *Service
	validate *validator.Validate
	log      *logrus.Logger
}

func NewHandler(service *Service, log *logrus.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		log:      log,
	}
}

// RegisterRoutes mounts the challenge endpoints on r. Every route requires an
// authenticated caller.
func (h *Handler) RegisterRoutes(r *mux.Router, authn auth.Authenticator) {
	challenges := r.PathPrefix("/challenges").Subrouter()
	challenges.Use(auth.Middleware(authn))
	challenges.HandleFunc("/generate-challenge", h.GenerateChallenge).Methods(http.MethodPost)
	challenges.HandleFunc("/my-history", h.GetMyHistory).Methods(http.MethodGet)
	challenges.HandleFunc("/quota", h.GetQuota).Methods(http.MethodGet)
}

func (h *Handler) GenerateChallenge(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Unauthorized", nil))
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, apperr.Validation("invalid request body", err))
		return
	}
	req.Difficulty = strings.ToLower(strings.TrimSpace(req.Difficulty))
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, apperr.Validation("difficulty must be one of easy, medium, hard", err))
		return
	}

	challenge, err := h.service.Issue(r.Context(), userID, req.Difficulty)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, challenge)
}

func (h *Handler) GetMyHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Unauthorized", nil))
		return
	}

	history, err := h.service.History(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		apperr.Write(w, apperr.Unauthorized("Unauthorized", nil))
		return
	}

	status, err := h.service.QuotaStatus(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.log.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.RequestID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	apperr.Write(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
