package httpapi

import (
	"errors"
	"net/http"

	"github.com/yuki-yano/vde-monitor/internal/historydb"
	"github.com/yuki-yano/vde-monitor/internal/model"
)

func (s *Server) registerNoteRoutes() {
	s.mux.HandleFunc("GET /api/sessions/{paneId}/notes", s.handleListNotes)
	s.mux.HandleFunc("POST /api/sessions/{paneId}/notes", s.handleCreateNote)
	s.mux.HandleFunc("PUT /api/sessions/{paneId}/notes/{noteId}", s.handleUpdateNote)
	s.mux.HandleFunc("DELETE /api/sessions/{paneId}/notes/{noteId}", s.handleDeleteNote)
}

func (s *Server) notesRepo(w http.ResponseWriter, r *http.Request) (model.SessionDetail, bool) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return model.SessionDetail{}, false
	}
	if detail.RepoRoot == "" || s.deps.Notes == nil {
		respondError(w, http.StatusBadRequest, codeRepoUnavailable, "notes require a pane inside a git repository")
		return model.SessionDetail{}, false
	}
	return detail, true
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.notesRepo(w, r)
	if !ok {
		return
	}
	notes, err := s.deps.Notes.List(detail.RepoRoot)
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

type noteBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.notesRepo(w, r)
	if !ok {
		return
	}
	var req noteBody
	if !decodeBody(w, r, &req) {
		return
	}
	note, err := s.deps.Notes.Create(detail.RepoRoot, detail.PaneID, req.Title, req.Body)
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.notesRepo(w, r); !ok {
		return
	}
	var req noteBody
	if !decodeBody(w, r, &req) {
		return
	}
	note, err := s.deps.Notes.Update(r.PathValue("noteId"), req.Title, req.Body)
	if errors.Is(err, historydb.ErrNoteNotFound) {
		respondError(w, http.StatusNotFound, codeNotFound, "note not found")
		return
	}
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"note": note})
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.notesRepo(w, r); !ok {
		return
	}
	noteID := r.PathValue("noteId")
	err := s.deps.Notes.Delete(noteID)
	if errors.Is(err, historydb.ErrNoteNotFound) {
		respondError(w, http.StatusNotFound, codeNotFound, "note not found")
		return
	}
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"noteId": noteID})
}
