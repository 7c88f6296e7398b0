package api

import (
	"net/http"
	"strings"

	"github.com/lockbox/backend/internal/apperr"
	"github.com/lockbox/backend/internal/models"
)

// expoTokenPrefix is the literal prefix of a valid Expo push token.
const expoTokenPrefix = "ExponentPushToken["

type savePushTokenRequest struct {
	PushToken string `json:"pushToken"`
	Platform  string `json:"platform"`
}

func (s *Server) handleSavePushToken(w http.ResponseWriter, r *http.Request) {
	var req savePushTokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if req.Platform != "ios" && req.Platform != "android" {
		s.writeError(w, r, apperr.BadRequest("platform must be either 'ios' or 'android'"))
		return
	}
	if !strings.HasPrefix(req.PushToken, expoTokenPrefix) {
		s.writeError(w, r, apperr.BadRequest("invalid push token format"))
		return
	}

	token := models.PushToken{
		UserID:    UserID(r),
		PushToken: req.PushToken,
		Platform:  req.Platform,
		UpdatedAt: models.NowStr(),
	}
	if err := s.tokens.SavePushToken(r.Context(), token); err != nil {
		s.writeError(w, r, apperr.Internal("failed to save push token", err))
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Push token saved successfully"})
}
