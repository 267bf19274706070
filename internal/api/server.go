// Package api serves prompt-tuned translation over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/sptune/internal/version"
)

type Server struct {
	store    *TranslationStore
	service  *TranslationService
	provider Provider
	clock    func() time.Time
}

func NewServer(store *TranslationStore, provider Provider) *Server {
	if store == nil {
		store = NewTranslationStore(0)
	}
	return &Server{
		store:    store,
		service:  NewTranslationService(provider),
		provider: provider,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/prompts", s.handlePrompts)
	e.POST("/v1/translations", s.handleCreateTranslation)
	e.GET("/v1/translations/:id", s.handleGetTranslation)
	e.DELETE("/v1/translations/:id", s.handleDeleteTranslation)
}

func (s *Server) handleHealth(c *echo.Context) error {
	info := version.Resolve()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		ModelLoaded: s.provider != nil && s.provider.Loaded(),
		Version:     info.Version,
		Commit:      info.Commit,
		GoVersion:   info.GoVersion,
	})
}

func (s *Server) handlePrompts(c *echo.Context) error {
	if s.provider == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "model provider not configured", "")
	}
	resp, err := s.service.Prompts(c.Request().Context())
	if err != nil {
		return s.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateTranslation(c *echo.Context) error {
	if s.provider == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "model provider not configured", "")
	}
	req, err := decodeJSON[TranslationRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.MaxNewTokens != nil && *req.MaxNewTokens < 0 {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "max_new_tokens must not be negative", "max_new_tokens")
	}

	resp, err := s.service.Translate(c.Request().Context(), &req)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	resp.CreatedAt = s.clock().Unix()
	s.store.Save(*resp)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetTranslation(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "translation "+id+" not found")
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteTranslation(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "translation "+id+" not found")
	}
	return c.JSON(http.StatusOK, DeleteResponse{ID: id, Object: "translation.deleted", Deleted: true})
}

func (s *Server) writeServiceError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return writeError(c, http.StatusServiceUnavailable, "timeout_error", err.Error(), "")
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}
}
