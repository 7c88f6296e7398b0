package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lockbox/backend/internal/boxes"
	"github.com/lockbox/backend/internal/models"
)

type boxResponse struct {
	Box *models.Box `json:"box"`
}

type boxListResponse struct {
	Boxes []models.Box `json:"boxes"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleCreateBox(w http.ResponseWriter, r *http.Request) {
	var req boxes.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	box, err := s.boxes.Create(r.Context(), UserID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, boxResponse{Box: box})
}

func (s *Server) handleListOwnedBoxes(w http.ResponseWriter, r *http.Request) {
	list, err := s.boxes.ListOwned(r.Context(), UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxListResponse{Boxes: list})
}

func (s *Server) handleGetOwnedBox(w http.ResponseWriter, r *http.Request) {
	box, err := s.boxes.GetOwned(r.Context(), mux.Vars(r)["id"], UserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxResponse{Box: box})
}

func (s *Server) handleUpdateBox(w http.ResponseWriter, r *http.Request) {
	var req boxes.UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	box, err := s.boxes.Update(r.Context(), mux.Vars(r)["id"], UserID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxResponse{Box: box})
}

func (s *Server) handleDeleteBox(w http.ResponseWriter, r *http.Request) {
	if err := s.boxes.Delete(r.Context(), mux.Vars(r)["id"], UserID(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Box deleted successfully"})
}

func (s *Server) handleLockBox(w http.ResponseWriter, r *http.Request) {
	var req boxes.LockRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	box, err := s.boxes.Lock(r.Context(), mux.Vars(r)["id"], UserID(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boxResponse{Box: box})
}

func (s *Server) handleUpsertGuardian(w http.ResponseWriter, r *http.Request) {
	var guardian models.Guardian
	if err := decodeBody(r, &guardian); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.boxes.UpsertGuardian(r.Context(), mux.Vars(r)["id"], UserID(r), guardian)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"guardian": result})
}

func (s *Server) handleDeleteGuardian(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := s.boxes.DeleteGuardian(r.Context(), vars["id"], UserID(r), vars["guardianId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"guardian": result})
}

func (s *Server) handleUpsertDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.Document
	if err := decodeBody(r, &doc); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.boxes.UpsertDocument(r.Context(), mux.Vars(r)["id"], UserID(r), doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": result})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := s.boxes.DeleteDocument(r.Context(), vars["id"], UserID(r), vars["documentId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": result})
}
