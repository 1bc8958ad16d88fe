package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// Persister sends moves to the server and reads boards back.
type Persister interface {
	ReorderColumns(ctx context.Context, boardID string, orderedColumnIDs []string) error
	ReorderTasks(ctx context.Context, columnID string, orderedTaskIDs []string) error
	MoveTask(ctx context.Context, taskID, srcColumnID, dstColumnID string, dstIndex int) error
	FetchBoard(ctx context.Context, boardID string) (domain.BoardState, error)
}

const maxResponseSize = 4 << 20

// HTTPPersister talks to the board API over HTTP.
type HTTPPersister struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// NewHTTPPersister creates a persister for the API at baseURL.
func NewHTTPPersister(baseURL, bearer string) *HTTPPersister {
	return &HTTPPersister{BaseURL: strings.TrimRight(baseURL, "/"), Bearer: bearer, HTTP: &http.Client{}}
}

func (p *HTTPPersister) ReorderColumns(ctx context.Context, boardID string, orderedColumnIDs []string) error {
	body := map[string][]string{"columnIds": orderedColumnIDs}
	return p.do(ctx, http.MethodPut, "/api/boards/"+url.PathEscape(boardID)+"/columns/order", body, nil)
}

func (p *HTTPPersister) ReorderTasks(ctx context.Context, columnID string, orderedTaskIDs []string) error {
	body := map[string][]string{"taskIds": orderedTaskIDs}
	return p.do(ctx, http.MethodPut, "/api/columns/"+url.PathEscape(columnID)+"/tasks/order", body, nil)
}

func (p *HTTPPersister) MoveTask(ctx context.Context, taskID, srcColumnID, dstColumnID string, dstIndex int) error {
	body := struct {
		SourceColumnID      string `json:"sourceColumnId"`
		DestinationColumnID string `json:"destinationColumnId"`
		DestinationIndex    int    `json:"destinationIndex"`
	}{srcColumnID, dstColumnID, dstIndex}
	return p.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/move", body, nil)
}

func (p *HTTPPersister) FetchBoard(ctx context.Context, boardID string) (domain.BoardState, error) {
	var state domain.BoardState
	err := p.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID), nil, &state)
	return state, err
}

// ListBoards returns the caller's boards.
func (p *HTTPPersister) ListBoards(ctx context.Context) ([]domain.Board, error) {
	var boards []domain.Board
	err := p.do(ctx, http.MethodGet, "/api/boards", nil, &boards)
	return boards, err
}

// CreateBoard creates an empty board.
func (p *HTTPPersister) CreateBoard(ctx context.Context, name string) (domain.Board, error) {
	var b domain.Board
	err := p.do(ctx, http.MethodPost, "/api/boards", map[string]string{"name": name}, &b)
	return b, err
}

// CreateColumn appends a column to a board.
func (p *HTTPPersister) CreateColumn(ctx context.Context, boardID, title string) (domain.Column, error) {
	var c domain.Column
	err := p.do(ctx, http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/columns", map[string]string{"title": title}, &c)
	return c, err
}

// CreateTask appends a task to a column.
func (p *HTTPPersister) CreateTask(ctx context.Context, columnID, title string) (domain.Task, error) {
	var t domain.Task
	err := p.do(ctx, http.MethodPost, "/api/columns/"+url.PathEscape(columnID)+"/tasks", map[string]string{"title": title}, &t)
	return t, err
}

// APIError is a non-2xx response. It unwraps to the matching domain sentinel.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Kind)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	switch domain.ErrorKind(e.Kind) {
	case domain.KindInvalidInput:
		return domain.ErrInvalidInput
	case domain.KindNotFound:
		return domain.ErrNotFound
	case domain.KindAccessDenied:
		return domain.ErrAccessDenied
	}
	return nil
}

func (p *HTTPPersister) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+p.Bearer)
	}
	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var decoded struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if sonic.Unmarshal(raw, &decoded) == nil {
			apiErr.Kind, apiErr.Message = decoded.Error, decoded.Message
		}
		if apiErr.Kind == "" {
			apiErr.Kind = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
