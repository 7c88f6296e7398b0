package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lockbox/backend/internal/models"
)

type invitationResponse struct {
	Invitation *models.Invitation `json:"invitation"`
}

type createInvitationRequest struct {
	InvitedName    string `json:"invitedName"`
	BoxID          string `json:"boxId"`
	IsLeadGuardian bool   `json:"isLeadGuardian"`
}

type redeemInvitationRequest struct {
	InviteCode string `json:"inviteCode"`
}

// redeemInvitationResponse gives the redeeming guardian what they need to
// respond to their slot: the box and invitation ids.
type redeemInvitationResponse struct {
	Message        string `json:"message"`
	BoxID          string `json:"boxId"`
	InvitationID   string `json:"invitationId"`
	InvitedName    string `json:"invitedName"`
	IsLeadGuardian bool   `json:"isLeadGuardian"`
}

func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req createInvitationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	// Only the box owner can invite guardians to it.
	if _, err := s.boxes.GetOwned(r.Context(), req.BoxID, UserID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}

	inv, err := s.invitations.Create(r.Context(), UserID(r), req.InvitedName, req.BoxID, req.IsLeadGuardian)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{Invitation: inv})
}

func (s *Server) handleListMyInvitations(w http.ResponseWriter, r *http.Request) {
	invs, err := s.invitations.ListMine(r.Context(), UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invs)
}

func (s *Server) handleViewInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invitations.ViewByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{Invitation: inv})
}

func (s *Server) handleRedeemInvitation(w http.ResponseWriter, r *http.Request) {
	var req redeemInvitationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.invitations.Handle(r.Context(), req.InviteCode, UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redeemInvitationResponse{
		Message:        "Invitation handled successfully",
		BoxID:          inv.BoxID,
		InvitationID:   inv.ID,
		InvitedName:    inv.InvitedName,
		IsLeadGuardian: inv.IsLeadGuardian,
	})
}

func (s *Server) handleRefreshInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.invitations.Refresh(r.Context(), mux.Vars(r)["id"], UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{Invitation: inv})
}
