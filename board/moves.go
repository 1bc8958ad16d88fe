package board

import (
	"context"
	"slices"
	"time"

	"prism-board/domain"
	"prism-board/storage"
)

// ReorderColumns sets the column order of a board. orderedColumnIDs must be a
// permutation of the board's current columns.
func (s *Service) ReorderColumns(ctx context.Context, userID, boardID string, orderedColumnIDs []string) (domain.BoardState, error) {
	if !domain.ValidID(boardID) {
		return domain.BoardState{}, domain.InvalidInputf("malformed board id %q", boardID)
	}
	if err := domain.ValidIDs(orderedColumnIDs); err != nil {
		return domain.BoardState{}, err
	}
	return s.mutate(ctx, userID, boardID, "reorder-columns", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		b := tx.Board()
		if err := domain.CheckPermutation(b.ColumnIDs, orderedColumnIDs); err != nil {
			return err
		}
		if slices.Equal(b.ColumnIDs, orderedColumnIDs) {
			return nil
		}
		now := s.now().UTC()
		ev.Type, ev.EntityType, ev.EntityID = domain.ColumnsReordered, "board", boardID
		if src, dst, ok := domain.DeriveMove(b.ColumnIDs, orderedColumnIDs); ok {
			ev.EntityID = b.ColumnIDs[src]
			ev.Move = &domain.Move{Kind: domain.MoveColumn, EntityID: b.ColumnIDs[src],
				SourceContainerID: boardID, DestinationContainerID: boardID, SourceIndex: src, DestinationIndex: dst}
		}
		b.ColumnIDs = slices.Clone(orderedColumnIDs)
		b.UpdatedAt = now
		tx.PutBoard(b)
		return writeColumnOrder(tx, b.ColumnIDs, now)
	})
}

// ReorderTasks sets the task order of a column. orderedTaskIDs must be a
// permutation of the column's current tasks.
func (s *Service) ReorderTasks(ctx context.Context, userID, columnID string, orderedTaskIDs []string) (domain.BoardState, error) {
	if err := domain.ValidIDs(orderedTaskIDs); err != nil {
		return domain.BoardState{}, err
	}
	boardID, err := s.boardOf(ctx, storage.RefColumn, columnID)
	if err != nil {
		return domain.BoardState{}, err
	}
	return s.mutate(ctx, userID, boardID, "reorder-tasks", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		col, ok := tx.Column(columnID)
		if !ok {
			return domain.NotFoundf("column %s", columnID)
		}
		if err := domain.CheckPermutation(col.TaskIDs, orderedTaskIDs); err != nil {
			return err
		}
		if slices.Equal(col.TaskIDs, orderedTaskIDs) {
			return nil
		}
		ev.Type, ev.EntityType, ev.EntityID = domain.TasksReordered, "column", columnID
		if src, dst, ok := domain.DeriveMove(col.TaskIDs, orderedTaskIDs); ok {
			ev.EntityType, ev.EntityID = "task", col.TaskIDs[src]
			ev.Move = &domain.Move{Kind: domain.MoveTask, EntityID: col.TaskIDs[src],
				SourceContainerID: columnID, DestinationContainerID: columnID, SourceIndex: src, DestinationIndex: dst}
		}
		tasks, err := columnTasks(tx, orderedTaskIDs)
		if err != nil {
			return err
		}
		writeColumnTasks(tx, columnID, domain.Reindex(tasks), s.now().UTC())
		return nil
	})
}

// MoveTask moves a task to dstIndex in dstColumnID. An index past the end
// appends. When source and destination are the same column this is a reorder
// within it.
//
// The move is applied to the board as it is now: a task that already sits in
// the destination column, as after a retried request, is repositioned there
// instead of failing.
func (s *Service) MoveTask(ctx context.Context, userID, taskID, srcColumnID, dstColumnID string, dstIndex int) (domain.BoardState, error) {
	for _, id := range []string{srcColumnID, dstColumnID} {
		if !domain.ValidID(id) {
			return domain.BoardState{}, domain.InvalidInputf("malformed column id %q", id)
		}
	}
	if err := domain.ValidateIndex("destinationIndex", dstIndex); err != nil {
		return domain.BoardState{}, err
	}
	boardID, err := s.boardOf(ctx, storage.RefTask, taskID)
	if err != nil {
		return domain.BoardState{}, err
	}
	return s.mutate(ctx, userID, boardID, "move-task", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		task, ok := tx.Task(taskID)
		if !ok {
			return domain.NotFoundf("task %s", taskID)
		}
		state := tx.State()
		si, di := state.ColumnIndex(srcColumnID), state.ColumnIndex(dstColumnID)
		if si < 0 {
			return domain.NotFoundf("column %s", srcColumnID)
		}
		if di < 0 {
			return domain.NotFoundf("column %s", dstColumnID)
		}
		switch task.ColumnID {
		case srcColumnID:
		case dstColumnID:
			si = di
		default:
			return domain.InvalidInputf("task %s is not in column %s", taskID, srcColumnID)
		}
		src, dst := state.Columns[si], state.Columns[di]
		srcIndex := domain.IndexOf(src.TaskIDs, taskID)
		if srcIndex < 0 {
			return domain.InvalidInputf("task %s is not listed in column %s", taskID, src.ID)
		}
		fromIDs, toIDs := domain.MoveIDs(src.TaskIDs, dst.TaskIDs, srcIndex, dstIndex)
		finalIndex := domain.IndexOf(toIDs, taskID)
		if si == di && finalIndex == srcIndex {
			return nil
		}

		now := s.now().UTC()
		from, err := columnTasks(tx, fromIDs)
		if err != nil {
			return err
		}
		writeColumnTasks(tx, src.ID, domain.Reindex(from), now)
		if si != di {
			to, err := columnTasks(tx, toIDs)
			if err != nil {
				return err
			}
			writeColumnTasks(tx, dst.ID, domain.Reindex(to), now)
			b := tx.Board()
			b.UpdatedAt = now
			tx.PutBoard(b)
		}
		ev.Type, ev.EntityType, ev.EntityID = domain.TaskMoved, "task", taskID
		ev.Move = &domain.Move{Kind: domain.MoveTask, EntityID: taskID,
			SourceContainerID: state.Columns[si].ID, DestinationContainerID: state.Columns[di].ID,
			SourceIndex: srcIndex, DestinationIndex: finalIndex}
		return nil
	})
}

// writeColumnOrder stamps every column whose index in ids changed.
func writeColumnOrder(tx *storage.Tx, ids []string, now time.Time) error {
	cols := make([]domain.Column, 0, len(ids))
	for _, id := range ids {
		c, ok := tx.Column(id)
		if !ok {
			return domain.NotFoundf("column %s", id)
		}
		cols = append(cols, c)
	}
	for i, c := range domain.Reindex(cols) {
		if old, _ := tx.Column(c.ID); old.Position != i {
			c.UpdatedAt = now
			tx.PutColumn(c)
		}
	}
	return nil
}

func columnTasks(tx *storage.Tx, ids []string) ([]domain.Task, error) {
	tasks := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		t, ok := tx.Task(id)
		if !ok {
			return nil, domain.NotFoundf("task %s", id)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// writeColumnTasks makes tasks, already reindexed, the content of the column
// and stamps every document that changed.
func writeColumnTasks(tx *storage.Tx, columnID string, tasks []domain.Task, now time.Time) {
	col, _ := tx.Column(columnID)
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		old, _ := tx.Task(t.ID)
		if old.ColumnID != columnID || old.Position != t.Position {
			t.ColumnID = columnID
			t.UpdatedAt = now
			tx.PutTask(t)
		}
	}
	if !slices.Equal(col.TaskIDs, ids) {
		col.TaskIDs = ids
		col.UpdatedAt = now
		tx.PutColumn(col)
	}
}
