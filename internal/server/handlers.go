package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/internal/config"
	"github.com/hyperjump/kensaku/internal/embedding"
	"github.com/hyperjump/kensaku/internal/indexer"
	"github.com/hyperjump/kensaku/internal/models"
)

// maxBodyBytes bounds request bodies, chunk uploads included.
const maxBodyBytes = 64 << 20

type addChunksRequest struct {
	Chunks  []models.Chunk `json:"chunks"`
	Replace bool           `json:"replace"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var query models.RetrieveQuery
	if !s.decode(w, r, &query) {
		return
	}
	query.CollectionID = chi.URLParam(r, "id")
	s.logger.Debug("retrieve request",
		zap.String("collection", query.CollectionID),
		zap.String("mode", string(query.Mode)),
		zap.Int("k", query.K))
	resp, err := s.engine.Retrieve(r.Context(), &query)
	if err != nil {
		s.fail(w, "retrieval failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddChunks(w http.ResponseWriter, r *http.Request) {
	var req addChunksRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if len(req.Chunks) == 0 {
		s.respondError(w, http.StatusBadRequest, "chunks are required")
		return
	}
	var err error
	if req.Replace {
		err = s.indexer.ReplaceChunks(r.Context(), id, req.Chunks)
	} else {
		err = s.indexer.AddChunks(r.Context(), id, req.Chunks)
	}
	if err != nil {
		s.fail(w, "adding chunks failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"collection_id": id,
		"added":         len(req.Chunks),
		"replaced":      req.Replace,
	})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.indexer.Rebuild(r.Context(), id); err != nil {
		s.fail(w, "build failed", err)
		return
	}
	s.respondStats(w, r, id)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondStats(w, r, chi.URLParam(r, "id"))
}

func (s *Server) respondStats(w http.ResponseWriter, r *http.Request, id string) {
	stats, err := s.indexer.Stats(r.Context(), id)
	if err != nil {
		s.fail(w, "stats failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.indexer.Invalidate(id); err != nil {
		s.fail(w, "clearing cache failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"collection_id": id, "status": "cleared"})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.indexer.DeleteCollection(r.Context(), id); err != nil {
		s.fail(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"collection_id": id, "status": "deleted"})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.indexer.Collections(r.Context())
	if err != nil {
		s.fail(w, "listing collections failed", err)
		return
	}
	if collections == nil {
		collections = []models.Collection{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"collections": collections})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.fail(w, "watch add directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var req watchRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err == nil {
			path = req.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.fail(w, "watch remove directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories saves the watched directories back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.appConfig == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.appConfig.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.appConfig); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, indexer.ErrEmptyCollection):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, embedding.ErrEmbedding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
