package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/client"
	"prism-board/domain"
)

type options struct {
	apiURL  string
	token   string
	timeout time.Duration
	out     io.Writer
	logger  *log.Logger
}

func (o *options) persister() *client.HTTPPersister {
	return client.NewHTTPPersister(o.apiURL, o.token)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func newRootCmd(out io.Writer, logger *log.Logger) *cobra.Command {
	o := &options{out: out, logger: logger}
	root := &cobra.Command{
		Use:           "boardctl",
		Short:         "Inspect and rearrange kanban boards",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&o.apiURL, "api", envOr("BOARD_API_URL", "http://localhost:8080"), "board API base URL")
	root.PersistentFlags().StringVar(&o.token, "token", os.Getenv("BOARD_TOKEN"), "bearer token")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(boardsCmd(o), showCmd(o), addColumnCmd(o), addTaskCmd(o), moveTaskCmd(o), moveColumnCmd(o))
	return root
}

func boardsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boards",
		Short: "List your boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			boards, err := o.persister().ListBoards(ctx)
			if err != nil {
				return err
			}
			for _, b := range boards {
				fmt.Fprintf(o.out, "%s\t%s\t(%d columns)\n", b.ID, b.Name, len(b.ColumnIDs))
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			b, err := o.persister().CreateBoard(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(o.out, b.ID)
			return nil
		},
	})
	return cmd
}

func showCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show BOARD",
		Short: "Print a board with its columns and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			state, err := o.persister().FetchBoard(ctx, args[0])
			if err != nil {
				return err
			}
			renderBoard(o.out, state)
			return nil
		},
	}
}

func addColumnCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add-column BOARD TITLE",
		Short: "Append a column to a board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			c, err := o.persister().CreateColumn(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(o.out, c.ID)
			return nil
		},
	}
}

func addTaskCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add-task COLUMN TITLE",
		Short: "Append a task to a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			t, err := o.persister().CreateTask(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(o.out, t.ID)
			return nil
		},
	}
}

func moveTaskCmd(o *options) *cobra.Command {
	var to string
	var index int
	cmd := &cobra.Command{
		Use:   "move-task BOARD TASK",
		Short: "Move a task to another position or column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withController(cmd, args[0], func(c *client.Controller) (client.Record, error) {
				state := c.State()
				ci, ti, ok := state.LocateTask(args[1])
				if !ok {
					return client.Record{}, domain.NotFoundf("task %s", args[1])
				}
				src := state.Columns[ci].ID
				dst := to
				if dst == "" {
					dst = src
				}
				return c.MoveTask(args[1], src, dst, ti, index)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination column id (defaults to the task's column)")
	cmd.Flags().IntVar(&index, "index", 0, "destination index")
	return cmd
}

func moveColumnCmd(o *options) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "move-column BOARD COLUMN",
		Short: "Move a column to another position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withController(cmd, args[0], func(c *client.Controller) (client.Record, error) {
				src := c.State().ColumnIndex(args[1])
				if src < 0 {
					return client.Record{}, domain.NotFoundf("column %s", args[1])
				}
				return c.MoveColumn(src, index)
			})
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "destination index")
	return cmd
}

// withController loads the board, runs one move and waits for it to settle.
func (o *options) withController(cmd *cobra.Command, boardID string, move func(*client.Controller) (client.Record, error)) error {
	ctx, cancel := o.context(cmd)
	defer cancel()
	c, err := client.Load(ctx, o.persister(), boardID, client.WithTimeout(o.timeout), client.WithLogger(o.logger))
	if err != nil {
		return err
	}
	defer c.Close()

	rec, err := move(c)
	if err != nil {
		return err
	}
	if rec.State == client.Idle {
		fmt.Fprintln(o.out, "nothing to move")
		return nil
	}
	if err := c.Wait(ctx); err != nil {
		return err
	}
	for _, r := range c.Moves() {
		if r.Seq == rec.Seq && r.State == client.RolledBack {
			return fmt.Errorf("move reverted: %w", r.Err)
		}
	}
	renderBoard(o.out, c.State())
	return nil
}

func renderBoard(w io.Writer, state domain.BoardState) {
	fmt.Fprintf(w, "%s (v%d)\n", state.Board.Name, state.Board.Version)
	for _, col := range state.Columns {
		fmt.Fprintf(w, "[%d] %s %s\n", col.Position, col.Title, col.ID)
		for _, t := range col.Tasks {
			fmt.Fprintf(w, "    %d. %s %s\n", t.Position, t.Title, t.ID)
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
