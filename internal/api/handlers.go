package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"storypool/internal/admin"
	"storypool/internal/store"
)

func storyID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("story id must be a positive integer: %w", admin.ErrInvalid)
	}
	return id, nil
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decoding request body: %w: %w", admin.ErrInvalid, err)
	}
	return nil
}

func (s *Server) listStories(w http.ResponseWriter, r *http.Request) {
	stories, err := s.admin.ListStories(r.Context(), store.StoryStatus(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stories": stories})
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	id, err := storyID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.admin.GetStory(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) spawnStory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Force bool `json:"force"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	story, err := s.admin.Spawn(r.Context(), req.Force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, story)
}

func (s *Server) killStory(w http.ResponseWriter, r *http.Request) {
	id, err := storyID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	story, err := s.admin.Kill(r.Context(), id, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, story)
}

func (s *Server) deleteStory(w http.ResponseWriter, r *http.Request) {
	id, err := storyID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.admin.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) generateChapter(w http.ResponseWriter, r *http.Request) {
	id, err := storyID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.admin.GenerateChapter(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if out.Chapter == nil {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"chapter":   out.Chapter,
		"completed": out.Completed,
		"duplicate": out.Duplicate,
	})
}

func (s *Server) resetPool(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.admin.Reset(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted_stories": deleted})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	rt, err := s.admin.Config(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) patchConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("reading request body: %w: %w", admin.ErrInvalid, err))
		return
	}
	rt, err := s.admin.PatchConfig(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("limit must be an integer: %w", admin.ErrInvalid))
			return
		}
		limit = n
	}
	entities, err := s.admin.Entities(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) mergeEntities(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	merged, err := s.admin.MergeEntities(r.Context(), req.Source, req.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merged": merged})
}

func (s *Server) suppressEntity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.admin.SuppressEntity(r.Context(), req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppressed": req.Name})
}
