package httpapi

import (
	"net/http"
	"strconv"

	"github.com/yuki-yano/vde-monitor/internal/model"
)

func (s *Server) registerGitRoutes() {
	s.mux.HandleFunc("GET /api/sessions/{paneId}/worktrees", s.handleWorktrees)
	s.mux.HandleFunc("GET /api/sessions/{paneId}/diff", s.handleDiff)
	s.mux.HandleFunc("GET /api/sessions/{paneId}/diff/file", s.handleDiffFile)
	s.mux.HandleFunc("GET /api/sessions/{paneId}/commits", s.handleCommits)
	s.mux.HandleFunc("GET /api/sessions/{paneId}/commits/{hash}", s.handleCommit)
	s.mux.HandleFunc("GET /api/sessions/{paneId}/commits/{hash}/file", s.handleCommitFile)
}

// repoForPane resolves the pane and requires it to sit inside a git repo.
func (s *Server) repoForPane(w http.ResponseWriter, r *http.Request) (model.SessionDetail, bool) {
	detail, ok := s.paneDetail(w, r)
	if !ok {
		return model.SessionDetail{}, false
	}
	if detail.RepoRoot == "" || s.deps.Git == nil {
		respondError(w, http.StatusBadRequest, codeRepoUnavailable, "pane is not inside a git repository")
		return model.SessionDetail{}, false
	}
	return detail, true
}

func (s *Server) handleWorktrees(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.repoForPane(w, r)
	if !ok {
		return
	}
	worktrees, err := s.deps.Git.Worktrees(r.Context(), detail.RepoRoot)
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worktrees": worktrees})
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.repoForPane(w, r)
	if !ok {
		return
	}
	diff, err := s.deps.Git.Diff(r.Context(), detail.RepoRoot)
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": diff})
}

func (s *Server) handleDiffFile(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.repoForPane(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "path query parameter is required")
		return
	}
	diff, err := s.deps.Git.DiffFile(r.Context(), detail.RepoRoot, path)
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": diff, "path": path})
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.repoForPane(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	commits, err := s.deps.Git.Commits(r.Context(), detail.RepoRoot, limit)
	if err != nil {
		respondInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.repoForPane(w, r)
	if !ok {
		return
	}
	commit, err := s.deps.Git.Commit(r.Context(), detail.RepoRoot, r.PathValue("hash"))
	if err != nil {
		respondError(w, http.StatusNotFound, codeNotFound, "commit not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commit": commit})
}

func (s *Server) handleCommitFile(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.repoForPane(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, codeInvalidPayload, "path query parameter is required")
		return
	}
	content, err := s.deps.Git.CommitFile(r.Context(), detail.RepoRoot, r.PathValue("hash"), path)
	if err != nil {
		respondError(w, http.StatusNotFound, codeNotFound, "file not found at commit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"content": content, "path": path})
}
