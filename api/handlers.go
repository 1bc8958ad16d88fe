package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

// MaxBodySize caps every request body the API decodes.
const MaxBodySize = 1 << 20

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// Deps are the collaborators of the HTTP layer. Deduper, Activity and Health
// are optional.
type Deps struct {
	Boards   Boards
	Auth     Authenticator
	Deduper  Deduper
	Activity ActivityReader
	Health   HealthCheck
	Logger   *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = log.StandardLogger()
	}
	e.JSONSerializer = sonicSerializer{}
	h := &handlers{Deps: deps}

	e.GET("/healthz", h.healthz)

	e.GET("/api/boards", h.route("/api/boards", false, h.listBoards))
	e.POST("/api/boards", h.route("/api/boards", true, h.createBoard))
	e.GET("/api/boards/:id", h.route("/api/boards/:id", false, h.getBoard))
	e.DELETE("/api/boards/:id", h.route("/api/boards/:id", true, h.deleteBoard))
	if deps.Activity != nil {
		e.GET("/api/boards/:id/activity", h.route("/api/boards/:id/activity", false, h.boardActivity))
	}

	e.POST("/api/boards/:id/columns", h.route("/api/boards/:id/columns", true, h.createColumn))
	e.PUT("/api/boards/:id/columns/order", h.route("/api/boards/:id/columns/order", true, h.reorderColumns))
	e.PATCH("/api/columns/:id", h.route("/api/columns/:id", true, h.renameColumn))
	e.DELETE("/api/columns/:id", h.route("/api/columns/:id", true, h.deleteColumn))

	e.POST("/api/columns/:id/tasks", h.route("/api/columns/:id/tasks", true, h.createTask))
	e.PUT("/api/columns/:id/tasks/order", h.route("/api/columns/:id/tasks/order", true, h.reorderTasks))
	e.PATCH("/api/tasks/:id", h.route("/api/tasks/:id", true, h.updateTask))
	e.DELETE("/api/tasks/:id", h.route("/api/tasks/:id", true, h.deleteTask))
	e.POST("/api/tasks/:id/move", h.route("/api/tasks/:id/move", true, h.moveTask))
}

type handlers struct {
	Deps
}

// result is what an endpoint produced. A nil body means no content.
type result struct {
	status int
	body   any
}

type endpoint func(ctx context.Context, c echo.Context, userID string) (result, error)

// route wraps an endpoint with authentication, idempotency and request
// observability.
func (h *handlers) route(path string, mutating bool, fn endpoint) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		metrics, ctx := newRequestMetrics(req.Context(), h.Logger, req.Method, path)
		c.SetRequest(req.WithContext(ctx))

		status, reqErr, err := h.serve(ctx, c, metrics, mutating, fn)
		metrics.Log(status, reqErr)
		return err
	}
}

func (h *handlers) serve(ctx context.Context, c echo.Context, metrics *requestMetrics, mutating bool, fn endpoint) (int, error, error) {
	authStart := time.Now()
	userID, authErr := h.Auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		return http.StatusUnauthorized, authErr, c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: authErr.Error()})
	}

	key := c.Request().Header.Get(HeaderIdempotencyKey)
	dedupe := mutating && key != "" && h.Deduper != nil
	if mutating && len(key) > maxIdempotencyKeyLen {
		metrics.SetErrorStage("idempotency")
		err := domain.InvalidInputf("idempotency key longer than %d characters", maxIdempotencyKeyLen)
		return http.StatusBadRequest, err, c.JSON(http.StatusBadRequest, errorBody(err))
	}
	if dedupe {
		added, err := h.Deduper.Add(ctx, userID, key)
		switch {
		case err != nil:
			h.Logger.WithError(err).WithField("user", userID).Warn("idempotency check failed")
			dedupe = false
		case !added:
			metrics.SetDuplicate(true)
			return http.StatusOK, nil, c.JSON(http.StatusOK, duplicateResponse{Duplicate: true})
		}
	}

	start := time.Now()
	res, err := fn(ctx, c, userID)
	metrics.ObserveBoard(time.Since(start))
	if err != nil {
		if dedupe {
			if rerr := h.Deduper.Remove(context.WithoutCancel(ctx), userID, key); rerr != nil {
				h.Logger.WithError(rerr).WithField("user", userID).Warn("release idempotency key")
			}
		}
		status := statusFor(err)
		metrics.SetErrorStage(errorStage(err))
		return status, err, c.JSON(status, errorBody(err))
	}
	if res.body == nil {
		return res.status, nil, c.NoContent(res.status)
	}
	if err := c.JSON(res.status, res.body); err != nil {
		metrics.SetErrorStage("encode_response")
		return res.status, err, err
	}
	return res.status, nil, nil
}

func (h *handlers) healthz(c echo.Context) error {
	if h.Health != nil {
		if err := h.Health(c.Request().Context()); err != nil {
			h.Logger.WithError(err).Warn("health check failed")
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) listBoards(ctx context.Context, _ echo.Context, userID string) (result, error) {
	boards, err := h.Boards.ListBoards(ctx, userID)
	return result{http.StatusOK, boards}, err
}

func (h *handlers) createBoard(ctx context.Context, c echo.Context, userID string) (result, error) {
	var body createBoardRequest
	if err := decodeBody(c, &body); err != nil {
		return result{}, err
	}
	b, err := h.Boards.CreateBoard(ctx, userID, body.Name)
	return result{http.StatusCreated, b}, err
}

func (h *handlers) getBoard(ctx context.Context, c echo.Context, userID string) (result, error) {
	state, err := h.Boards.GetBoard(ctx, userID, c.Param("id"))
	return result{http.StatusOK, state}, err
}

func (h *handlers) deleteBoard(ctx context.Context, c echo.Context, userID string) (result, error) {
	return result{status: http.StatusNoContent}, h.Boards.DeleteBoard(ctx, userID, c.Param("id"))
}

func (h *handlers) boardActivity(ctx context.Context, c echo.Context, userID string) (result, error) {
	limit := defaultActivityLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return result{}, domain.InvalidInputf("limit must be a positive integer")
		}
		limit = min(n, maxActivityLimit)
	}
	boardID := c.Param("id")
	if _, err := h.Boards.GetBoard(ctx, userID, boardID); err != nil {
		return result{}, err
	}
	events, err := h.Activity.Recent(ctx, boardID, limit)
	if err != nil {
		return result{}, fmt.Errorf("read activity: %w", err)
	}
	return result{http.StatusOK, events}, nil
}

func (h *handlers) createColumn(ctx context.Context, c echo.Context, userID string) (result, error) {
	var body createColumnRequest
	if err := decodeBody(c, &body); err != nil {
		return result{}, err
	}
	col, err := h.Boards.CreateColumn(ctx, userID, c.Param("id"), body.Title, body.Index)
	return result{http.StatusCreated, col}, err
}

func (h *handlers) reorderColumns(ctx context.Context, c echo.Context, userID string) (result, error) {
	var body reorderColumnsRequest
	if err := decodeBody(c, &body); err != nil {
		return result{}, err
	}
	state, err := h.Boards.ReorderColumns(ctx, userID, c.Param("id"), body.ColumnIDs)
	return result{http.StatusOK, state}, err
}

func (h *handlers) renameColumn(ctx context.Context, c echo.Context, userID string) (result, error) {
	var body renameColumnRequest
	if err := decodeBody(c, &body); err != nil {
		return result{}, err
	}
	col, err := h.Boards.RenameColumn(ctx, userID, c.Param("id"), body.Title)
	return result{http.StatusOK, col}, err
}

func (h *handlers) deleteColumn(ctx context.Context, c echo.Context, userID string) (result, error) {
	return result{status: http.StatusNoContent}, h.Boards.DeleteColumn(ctx, userID, c.Param("id"))
}

func (h *handlers) createTask(ctx context.Context, c echo.Context, userID string) (result, error) {
	var body createTaskRequest
	if err := decodeBody(c, &body); err != nil {
		return result{}, err
	}
	in := board.TaskInput{
		Title:       body.Title,
		Description: body.Description,
		Labels:      body.Labels,
		Priority:    body.Priority,
		Subtasks:    body.Subtasks,
	}
	task, err := h.Boards.CreateTask(ctx, userID, c.Param("id"), in, body.Index)
	return result{http.StatusCreated, task}, err
}

func (h *handlers) reorderTasks(ctx context.Context, c echo.Context, userID string) (result, error) {
	var body reorderTasksRequest
	if err := decodeBody(c, &body); err != nil {
		return result{}, err
	}
	state, err := h.Boards.ReorderTasks(ctx, userID, c.Param("id"), body.TaskIDs)
	return result{http.StatusOK, state}, err
}

func (h *handlers) updateTask(ctx context.Context, c echo.Context, userID string) (result, error) {
	var body updateTaskRequest
	if err := decodeBody(c, &body); err != nil {
		return result{}, err
	}
	task, err := h.Boards.UpdateTask(ctx, userID, c.Param("id"), board.TaskPatch{
		Title:       body.Title,
		Description: body.Description,
		Labels:      body.Labels,
		Priority:    body.Priority,
		Subtasks:    body.Subtasks,
	})
	return result{http.StatusOK, task}, err
}

func (h *handlers) deleteTask(ctx context.Context, c echo.Context, userID string) (result, error) {
	return result{status: http.StatusNoContent}, h.Boards.DeleteTask(ctx, userID, c.Param("id"))
}

func (h *handlers) moveTask(ctx context.Context, c echo.Context, userID string) (result, error) {
	var body moveTaskRequest
	if err := decodeBody(c, &body); err != nil {
		return result{}, err
	}
	if body.DestinationIndex == nil {
		return result{}, domain.InvalidInputf("destinationIndex is required")
	}
	state, err := h.Boards.MoveTask(ctx, userID, c.Param("id"), body.SourceColumnID, body.DestinationColumnID, *body.DestinationIndex)
	return result{http.StatusOK, state}, err
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.InvalidInputf("invalid body")
	}
	return nil
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAccessDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func errorStage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	switch domain.KindOf(err) {
	case domain.KindInvalidInput:
		return "validation"
	case domain.KindNotFound, domain.KindAccessDenied:
		return "lookup"
	default:
		return "board"
	}
}

// errorBody never carries internal error detail to the caller.
func errorBody(err error) errorResponse {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindInternalError, domain.KindNone:
		return errorResponse{Error: string(domain.KindInternalError), Message: "internal error"}
	case domain.KindAccessDenied:
		return errorResponse{Error: string(kind), Message: domain.ErrAccessDenied.Error()}
	}
	return errorResponse{Error: string(kind), Message: err.Error()}
}

// sonicSerializer is the echo JSON serializer backed by sonic.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	return sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
}
