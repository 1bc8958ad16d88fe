package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/api"
	"prism-board/board"
	"prism-board/domain"
	"prism-board/storage"
)

const user = "auth0|cli"

type cli struct {
	url   string
	token string
	svc   *board.Service
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	secret := []byte("cli-secret")
	logger, _ := test.NewNullLogger()
	svc := board.NewService(storage.NewMemory(), board.WithLogger(logger))
	e := echo.New()
	api.Register(e, api.Deps{Boards: svc, Auth: api.NewSharedSecretAuth(secret, "", ""), Logger: logger})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": user, "exp": time.Now().Add(time.Hour).Unix()}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &cli{url: srv.URL, token: token, svc: svc}
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	logger, _ := test.NewNullLogger()
	root := newRootCmd(&out, logger)
	root.SetArgs(append([]string{"--api", c.url, "--token", c.token, "--timeout", "2s"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := c.run(t, args...)
	if err != nil {
		t.Fatalf("boardctl %v: %v", args, err)
	}
	return strings.TrimSpace(out)
}

func TestMoveCommands(t *testing.T) {
	c := newCLI(t)
	boardID := c.mustRun(t, "boards", "create", "Sprint")
	todo := c.mustRun(t, "add-column", boardID, "Todo")
	done := c.mustRun(t, "add-column", boardID, "Done")
	first := c.mustRun(t, "add-task", todo, "first")
	second := c.mustRun(t, "add-task", todo, "second")

	out := c.mustRun(t, "move-task", boardID, second, "--to", done, "--index", "0")
	if !strings.Contains(out, "Done") {
		t.Fatalf("expected rendered board, got %q", out)
	}
	c.mustRun(t, "move-column", boardID, done, "--index", "0")

	state, err := c.svc.GetBoard(context.Background(), user, boardID)
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if state.Board.ColumnIDs[0] != done || state.Columns[0].TaskIDs[0] != second || state.Columns[1].TaskIDs[0] != first {
		t.Fatalf("unexpected board %#v", state)
	}

	if out := c.mustRun(t, "move-task", boardID, first, "--index", "0"); out != "nothing to move" {
		t.Fatalf("expected no-op, got %q", out)
	}
	if _, err := c.run(t, "move-task", boardID, "ghost"); err == nil {
		t.Fatalf("expected error for unknown task")
	}

	list := c.mustRun(t, "boards")
	if !strings.Contains(list, boardID) || !strings.Contains(list, "(2 columns)") {
		t.Fatalf("unexpected list %q", list)
	}
}

func TestRenderBoard(t *testing.T) {
	state := domain.BoardState{
		Board: domain.Board{ID: "b1", Name: "Sprint", Version: 4},
		Columns: []domain.ColumnState{{
			Column: domain.Column{ID: "c1", Title: "Todo"},
			Tasks:  []domain.Task{{ID: "t1", Title: "Write"}, {ID: "t2", Title: "Ship"}},
		}},
	}.Normalize()
	var buf bytes.Buffer
	renderBoard(&buf, state)
	want := "Sprint (v4)\n[0] Todo c1\n    0. Write t1\n    1. Ship t2\n"
	if buf.String() != want {
		t.Fatalf("unexpected rendering:\n%s", buf.String())
	}
}
