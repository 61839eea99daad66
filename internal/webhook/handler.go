// backend/internal/webhook/handler.go
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"challenge-system/internal/apperr"
	"challenge-system/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	svix "github.com/svix/svix-webhooks/go"
)

const (
	EventUserCreated = "user.created"
	maxBodyBytes     = 1 << 20
)

// Verifier checks the signature headers of a delivery against its raw body.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

type Provisioner interface {
	Provision(ctx context.Context, userID string) (bool, error)
}

// NewVerifier builds a verifier for a "whsec_" prefixed signing secret.
func NewVerifier(secret string) (Verifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, err
	}
	return wh, nil
}

type Event struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type Response struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type Handler struct {
	verifier    Verifier
	provisioner Provisioner
	log         *logrus.Logger
}

func NewHandler(verifier Verifier, provisioner Provisioner, log *logrus.Logger) *Handler {
	return &Handler{
		verifier:    verifier,
		provisioner: provisioner,
		log:         log,
	}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhooks/clerk", h.HandleClerk).Methods(http.MethodPost)
}

// HandleClerk provisions the starting quota of users created at the identity provider.
func (h *Handler) HandleClerk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		apperr.Write(w, apperr.Validation("unable to read request body", err))
		return
	}

	if err := h.verifier.Verify(body, r.Header); err != nil {
		h.log.WithError(err).WithField("request_id", middleware.RequestID(r.Context())).
			Warn("webhook verification failed")
		apperr.Write(w, apperr.VerificationFailed("Webhook verification failed", err))
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		apperr.Write(w, apperr.Validation("invalid event payload", err))
		return
	}

	if event.Type != EventUserCreated {
		h.log.WithField("type", event.Type).Debug("webhook event ignored")
		writeJSON(w, http.StatusOK, Response{Status: "ignored"})
		return
	}

	if event.Data.ID == "" {
		apperr.Write(w, apperr.Validation("No user_id in webhook data", nil))
		return
	}

	created, err := h.provisioner.Provision(r.Context(), event.Data.ID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", event.Data.ID).Error("quota provisioning failed")
		apperr.Write(w, apperr.Internal(err))
		return
	}
	if !created {
		writeJSON(w, http.StatusOK, Response{Status: "success", Detail: "Quota already exists"})
		return
	}

	writeJSON(w, http.StatusOK, Response{Status: "success"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
