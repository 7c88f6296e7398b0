package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lockbox/backend/internal/boxes"
)

func (s *Server) handleListGuardianBoxes(w http.ResponseWriter, r *http.Request) {
	list, err := s.boxes.ListGuardianBoxes(r.Context(), UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxListResponse{Boxes: list})
}

func (s *Server) handleGetGuardianBox(w http.ResponseWriter, r *http.Request) {
	box, err := s.boxes.GetGuardianBox(r.Context(), mux.Vars(r)["id"], UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxResponse{Box: box})
}

func (s *Server) handleFetchShard(w http.ResponseWriter, r *http.Request) {
	payload, err := s.boxes.FetchShard(r.Context(), mux.Vars(r)["id"], UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleAcknowledgeShard(w http.ResponseWriter, r *http.Request) {
	result, err := s.boxes.AcknowledgeShard(r.Context(), mux.Vars(r)["id"], UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAcceptShard(w http.ResponseWriter, r *http.Request) {
	result, err := s.boxes.AcceptShard(r.Context(), mux.Vars(r)["id"], UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRequestUnlock(w http.ResponseWriter, r *http.Request) {
	// The message is optional; an empty body starts a request without one.
	var req boxes.UnlockRequestInput
	if err := decodeOptionalBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	box, err := s.boxes.RequestUnlock(r.Context(), mux.Vars(r)["id"], UserID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxResponse{Box: box})
}

func (s *Server) handleRespondToUnlockRequest(w http.ResponseWriter, r *http.Request) {
	var req boxes.UnlockResponseInput
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	box, err := s.boxes.RespondToUnlockRequest(r.Context(), mux.Vars(r)["id"], UserID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxResponse{Box: box})
}

func (s *Server) handleRespondToInvitation(w http.ResponseWriter, r *http.Request) {
	var req boxes.InvitationResponseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	box, err := s.boxes.RespondToInvitation(r.Context(), mux.Vars(r)["id"], UserID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxResponse{Box: box})
}
