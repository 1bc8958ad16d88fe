package board

import (
	"context"
	"fmt"

	"prism-board/domain"
	"prism-board/storage"
)

// CreateBoard creates an empty board owned by userID.
func (s *Service) CreateBoard(ctx context.Context, userID, name string) (domain.Board, error) {
	if userID == "" {
		return domain.Board{}, fmt.Errorf("%w: anonymous caller", domain.ErrAccessDenied)
	}
	name, err := validateTitle("name", name)
	if err != nil {
		return domain.Board{}, err
	}
	now := s.now().UTC()
	b := domain.Board{
		ID:        domain.NewID(),
		Name:      name,
		OwnerID:   userID,
		ColumnIDs: []string{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBoard(ctx, b); err != nil {
		return domain.Board{}, err
	}
	s.publish(ctx, domain.BoardEvent{BoardID: b.ID, EntityID: b.ID, EntityType: "board",
		Type: domain.BoardCreated, Version: b.Version, UserID: userID})
	return b, nil
}

// GetBoard returns the ordered view of a board.
func (s *Service) GetBoard(ctx context.Context, userID, boardID string) (domain.BoardState, error) {
	if !domain.ValidID(boardID) {
		return domain.BoardState{}, domain.InvalidInputf("malformed board id %q", boardID)
	}
	snap, err := s.store.LoadBoard(ctx, boardID)
	if err != nil {
		return domain.BoardState{}, err
	}
	if err := checkOwner(snap.Board, userID); err != nil {
		return domain.BoardState{}, err
	}
	return snap.State(), nil
}

// ListBoards returns the caller's boards, oldest first.
func (s *Service) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: anonymous caller", domain.ErrAccessDenied)
	}
	return s.store.ListBoards(ctx, userID)
}

// DeleteBoard deletes a board with all of its columns and tasks.
func (s *Service) DeleteBoard(ctx context.Context, userID, boardID string) error {
	if !domain.ValidID(boardID) {
		return domain.InvalidInputf("malformed board id %q", boardID)
	}
	_, err := s.mutate(ctx, userID, boardID, "delete-board", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		tx.DeleteBoard()
		ev.Type, ev.EntityType, ev.EntityID = domain.BoardDeleted, "board", boardID
		return nil
	})
	return err
}

// CreateColumn adds a column to a board at index, or at the end when index
// is nil. An index past the end appends.
func (s *Service) CreateColumn(ctx context.Context, userID, boardID, title string, index *int) (domain.Column, error) {
	if !domain.ValidID(boardID) {
		return domain.Column{}, domain.InvalidInputf("malformed board id %q", boardID)
	}
	title, err := validateTitle("title", title)
	if err != nil {
		return domain.Column{}, err
	}
	if err := validIndex(index); err != nil {
		return domain.Column{}, err
	}
	id := domain.NewID()
	state, err := s.mutate(ctx, userID, boardID, "create-column", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		now := s.now().UTC()
		b := tx.Board()
		at := len(b.ColumnIDs)
		if index != nil {
			at = *index
		}
		b.ColumnIDs = domain.InsertAt(b.ColumnIDs, id, at)
		b.UpdatedAt = now
		tx.PutBoard(b)
		tx.PutColumn(domain.Column{ID: id, Title: title, TaskIDs: []string{}, UpdatedAt: now})
		ev.Type, ev.EntityType, ev.EntityID = domain.ColumnCreated, "column", id
		return writeColumnOrder(tx, b.ColumnIDs, now)
	})
	if err != nil {
		return domain.Column{}, err
	}
	return columnFrom(state, id)
}

// RenameColumn changes a column's title.
func (s *Service) RenameColumn(ctx context.Context, userID, columnID, title string) (domain.Column, error) {
	title, err := validateTitle("title", title)
	if err != nil {
		return domain.Column{}, err
	}
	boardID, err := s.boardOf(ctx, storage.RefColumn, columnID)
	if err != nil {
		return domain.Column{}, err
	}
	state, err := s.mutate(ctx, userID, boardID, "rename-column", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		col, ok := tx.Column(columnID)
		if !ok {
			return domain.NotFoundf("column %s", columnID)
		}
		if col.Title == title {
			return nil
		}
		col.Title = title
		col.UpdatedAt = s.now().UTC()
		tx.PutColumn(col)
		ev.Type, ev.EntityType, ev.EntityID = domain.ColumnUpdated, "column", columnID
		return nil
	})
	if err != nil {
		return domain.Column{}, err
	}
	return columnFrom(state, columnID)
}

// DeleteColumn deletes a column with its tasks and closes the gap it leaves.
func (s *Service) DeleteColumn(ctx context.Context, userID, columnID string) error {
	boardID, err := s.boardOf(ctx, storage.RefColumn, columnID)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, userID, boardID, "delete-column", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		col, ok := tx.Column(columnID)
		if !ok {
			return domain.NotFoundf("column %s", columnID)
		}
		now := s.now().UTC()
		for _, id := range col.TaskIDs {
			tx.DeleteTask(id)
		}
		tx.DeleteColumn(columnID)
		b := tx.Board()
		b.ColumnIDs = domain.RemoveAt(b.ColumnIDs, domain.IndexOf(b.ColumnIDs, columnID))
		b.UpdatedAt = now
		tx.PutBoard(b)
		ev.Type, ev.EntityType, ev.EntityID = domain.ColumnDeleted, "column", columnID
		return writeColumnOrder(tx, b.ColumnIDs, now)
	})
	return err
}

// CreateTask adds a task to a column at index, or at the end when index is
// nil. An index past the end appends.
func (s *Service) CreateTask(ctx context.Context, userID, columnID string, in TaskInput, index *int) (domain.Task, error) {
	task := domain.Task{
		ID:          domain.NewID(),
		ColumnID:    columnID,
		Description: in.Description,
		Labels:      append([]string(nil), in.Labels...),
		Priority:    in.Priority,
		Subtasks:    append([]domain.Subtask(nil), in.Subtasks...),
	}
	title, err := validateTitle("title", in.Title)
	if err != nil {
		return domain.Task{}, err
	}
	task.Title = title
	if err := validateTask(task); err != nil {
		return domain.Task{}, err
	}
	if err := validIndex(index); err != nil {
		return domain.Task{}, err
	}
	boardID, err := s.boardOf(ctx, storage.RefColumn, columnID)
	if err != nil {
		return domain.Task{}, err
	}
	state, err := s.mutate(ctx, userID, boardID, "create-task", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		col, ok := tx.Column(columnID)
		if !ok {
			return domain.NotFoundf("column %s", columnID)
		}
		tasks, err := columnTasks(tx, col.TaskIDs)
		if err != nil {
			return err
		}
		at := len(tasks)
		if index != nil {
			at = *index
		}
		now := s.now().UTC()
		task.UpdatedAt = now
		tx.PutTask(task)
		writeColumnTasks(tx, columnID, domain.Reindex(domain.InsertAt(tasks, task, at)), now)
		ev.Type, ev.EntityType, ev.EntityID = domain.TaskCreated, "task", task.ID
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return taskFrom(state, task.ID)
}

// UpdateTask changes the content fields of a task. Placement is changed
// through MoveTask and ReorderTasks only.
func (s *Service) UpdateTask(ctx context.Context, userID, taskID string, patch TaskPatch) (domain.Task, error) {
	if patch.empty() {
		return domain.Task{}, domain.InvalidInputf("no fields to update")
	}
	boardID, err := s.boardOf(ctx, storage.RefTask, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	state, err := s.mutate(ctx, userID, boardID, "update-task", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		task, ok := tx.Task(taskID)
		if !ok {
			return domain.NotFoundf("task %s", taskID)
		}
		next := patch.apply(task)
		if err := validateTask(next); err != nil {
			return err
		}
		next.UpdatedAt = s.now().UTC()
		tx.PutTask(next)
		ev.Type, ev.EntityType, ev.EntityID = domain.TaskUpdated, "task", taskID
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return taskFrom(state, taskID)
}

// DeleteTask deletes a task and closes the gap it leaves in its column.
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	boardID, err := s.boardOf(ctx, storage.RefTask, taskID)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, userID, boardID, "delete-task", func(tx *storage.Tx, ev *domain.BoardEvent) error {
		task, ok := tx.Task(taskID)
		if !ok {
			return domain.NotFoundf("task %s", taskID)
		}
		tx.DeleteTask(taskID)
		if col, ok := tx.Column(task.ColumnID); ok {
			rest := domain.RemoveAt(col.TaskIDs, domain.IndexOf(col.TaskIDs, taskID))
			tasks, err := columnTasks(tx, rest)
			if err != nil {
				return err
			}
			writeColumnTasks(tx, col.ID, domain.Reindex(tasks), s.now().UTC())
		}
		ev.Type, ev.EntityType, ev.EntityID = domain.TaskDeleted, "task", taskID
		return nil
	})
	return err
}

func columnFrom(state domain.BoardState, id string) (domain.Column, error) {
	if i := state.ColumnIndex(id); i >= 0 {
		return state.Columns[i].Column, nil
	}
	return domain.Column{}, domain.NotFoundf("column %s", id)
}

func taskFrom(state domain.BoardState, id string) (domain.Task, error) {
	if ci, ti, ok := state.LocateTask(id); ok {
		return state.Columns[ci].Tasks[ti], nil
	}
	return domain.Task{}, domain.NotFoundf("task %s", id)
}
