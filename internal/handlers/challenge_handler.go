package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/services/challenge"
)

// ChallengeGate lists and releases logins parked on a security challenge
type ChallengeGate interface {
	Pending() []challenge.Pending
	Confirm(accountID string) (challenge.Pending, error)
}

// ChallengeHandler lets an operator confirm security challenges over HTTP
type ChallengeHandler struct {
	gate   ChallengeGate
	logger arbor.ILogger
}

func NewChallengeHandler(gate ChallengeGate, logger arbor.ILogger) *ChallengeHandler {
	return &ChallengeHandler{gate: gate, logger: logger}
}

// ListChallengesHandler handles GET /auth/challenges
func (h *ChallengeHandler) ListChallengesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	pending := h.gate.Pending()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"pending": pending,
		"count":   len(pending),
	})
}

// ConfirmChallengeHandler handles POST /auth/challenges/{accountId}/confirm
func (h *ChallengeHandler) ConfirmChallengeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	rest := pathParam(r, "/auth/challenges/")
	accountID, ok := strings.CutSuffix(rest, "/confirm")
	if !ok || accountID == "" || strings.Contains(accountID, "/") {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}

	pending, err := h.gate.Confirm(accountID)
	if errors.Is(err, challenge.ErrNoPendingChallenge) {
		WriteJSON(w, http.StatusNotFound, map[string]interface{}{
			"success":   false,
			"error":     "No pending challenge",
			"accountId": accountID,
		})
		return
	}
	if err != nil {
		WriteTaskError(w, err, "accountId", accountID)
		return
	}

	h.logger.Info().Str("account", accountID).Msg("Challenge confirmed over HTTP")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Challenge confirmed",
		"accountId": pending.AccountID,
		"url":       pending.URL,
		"since":     pending.Since,
	})
}
