package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/assembler"
	"github.com/fyrsmithlabs/recalld/internal/chat"
	"github.com/fyrsmithlabs/recalld/internal/generation"
)

// handleHealth reports liveness and relational store reachability.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Services: map[string]string{"relstore": "ok"}}
	if err := s.deps.Records.Ping(c.Request().Context()); err != nil {
		s.logger.Warn("health check: relstore unreachable", zap.Error(err))
		resp.Status = "degraded"
		resp.Services["relstore"] = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateMessage(c echo.Context) error {
	var in chat.Inbound
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Ingester.Create(c.Request().Context(), in)
	if err != nil {
		return s.fail(err)
	}
	status := http.StatusCreated
	if !res.Stored {
		status = http.StatusOK
	}
	return c.JSON(status, res)
}

func (s *Server) handleCreateBatch(c echo.Context) error {
	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Messages) > s.config.MaxBatchSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "batch exceeds max_batch_size")
	}
	res, err := s.deps.Ingester.CreateBatch(c.Request().Context(), req.Messages)
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetMessage(c echo.Context) error {
	m, err := s.deps.Records.GetMessage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleUpdateMessage(c echo.Context) error {
	var req UpdateMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.deps.Ingester.Update(c.Request().Context(), c.Param("id"), req.Content, req.EditedTimestamp)
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleDeleteMessage(c echo.Context) error {
	if err := s.deps.Ingester.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListUsers(c echo.Context) error {
	users, err := s.deps.Records.GetAllUsers(c.Request().Context())
	if err != nil {
		return s.fail(err)
	}
	if users == nil {
		users = []chat.User{}
	}
	return c.JSON(http.StatusOK, users)
}

func (s *Server) handleGetUser(c echo.Context) error {
	u, err := s.deps.Records.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) handleUpdateUser(c echo.Context) error {
	var patch chat.UserPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	if err := s.deps.Records.UpdateUser(ctx, id, patch); err != nil {
		return s.fail(err)
	}
	u, err := s.deps.Records.GetUser(ctx, id)
	if err != nil {
		return s.fail(err)
	}
	return c.JSON(http.StatusOK, u)
}

// handleContext assembles context, renders the prompt and optionally generates a reply.
func (s *Server) handleContext(c echo.Context) error {
	var req ContextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()

	built, err := s.deps.Assembler.Build(ctx, req.Request)
	if err != nil {
		return s.fail(err)
	}

	resp := ContextResponse{
		Context: built,
		Summary: built.Summarize(),
		Prompt:  assembler.BuildPrompt(built, s.config.Persona, req.Prompt),
	}

	if req.Generate {
		if s.deps.Generator == nil {
			return echo.NewHTTPError(http.StatusNotImplemented, "no generator configured")
		}
		resp.Reply = replyFrom(s.deps.Generator.Generate(ctx, resp.Prompt))
	}
	return c.JSON(http.StatusOK, resp)
}

func replyFrom(r generation.Result) *ReplyResponse {
	out := &ReplyResponse{Kind: r.Kind()}
	switch v := r.(type) {
	case generation.Completed:
		out.Text = v.Text
	case generation.Incomplete:
		out.Reason = v.FinishReason
	case generation.Failed:
		out.Reason = v.Reason
	}
	return out
}

// fail maps domain errors to HTTP status codes.
func (s *Server) fail(err error) error {
	var code int
	switch {
	case errors.Is(err, chat.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, chat.ErrInferenceFailure):
		code = http.StatusBadGateway
	case errors.Is(err, chat.ErrStoreFailure):
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	if code >= http.StatusInternalServerError {
		// Backend detail stays in the log.
		s.logger.Error("request failed", zap.Int("status", code), zap.Error(err))
		return echo.NewHTTPError(code, http.StatusText(code))
	}
	return echo.NewHTTPError(code, err.Error())
}
