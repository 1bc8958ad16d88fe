package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

type fakeRow struct {
	data map[string]any
	etag string
}

// fakeTable is an in-memory stand-in for an Azure table with entity group
// transaction semantics.
type fakeTable struct {
	mu           sync.Mutex
	rows         map[string]map[string]fakeRow
	seq          int
	submitErr    error
	beforeSubmit func()
	submits      int
	lastBatch    int
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]fakeRow{}}
}

func (f *fakeTable) nextETag() string {
	f.seq++
	return fmt.Sprintf("W/\"%d\"", f.seq)
}

func decodeKeys(entity []byte) (map[string]any, string, string, error) {
	var m map[string]any
	if err := json.Unmarshal(entity, &m); err != nil {
		return nil, "", "", err
	}
	pk, _ := m["PartitionKey"].(string)
	rk, _ := m["RowKey"].(string)
	return m, pk, rk, nil
}

func (f *fakeTable) put(pk, rk string, m map[string]any) {
	if f.rows[pk] == nil {
		f.rows[pk] = map[string]fakeRow{}
	}
	f.rows[pk][rk] = fakeRow{data: m, etag: f.nextETag()}
}

func notFound() error { return &azcore.ResponseError{StatusCode: 404} }

func (f *fakeTable) GetEntity(ctx context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[pk][rk]
	if !ok {
		return aztables.GetEntityResponse{}, notFound()
	}
	data, _ := json.Marshal(row.data)
	return aztables.GetEntityResponse{ETag: azcore.ETag(row.etag), Value: data}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, pk, rk, err := decodeKeys(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	if _, exists := f.rows[pk][rk]; exists {
		return aztables.AddEntityResponse{}, &azcore.ResponseError{StatusCode: 409}
	}
	f.put(pk, rk, m)
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpsertEntity(ctx context.Context, entity []byte, _ *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, pk, rk, err := decodeKeys(entity)
	if err != nil {
		return aztables.UpsertEntityResponse{}, err
	}
	f.put(pk, rk, m)
	return aztables.UpsertEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[pk][rk]; !ok {
		return aztables.DeleteEntityResponse{}, notFound()
	}
	delete(f.rows[pk], rk)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	pk := strings.TrimSuffix(strings.TrimPrefix(*opts.Filter, "PartitionKey eq '"), "'")
	pk = strings.ReplaceAll(pk, "''", "'")

	f.mu.Lock()
	rks := make([]string, 0, len(f.rows[pk]))
	for rk := range f.rows[pk] {
		rks = append(rks, rk)
	}
	sort.Strings(rks)
	entities := make([][]byte, 0, len(rks))
	for _, rk := range rks {
		row := f.rows[pk][rk]
		m := map[string]any{"odata.etag": row.etag}
		for k, v := range row.data {
			m[k] = v
		}
		data, _ := json.Marshal(m)
		entities = append(entities, data)
	}
	f.mu.Unlock()

	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			return aztables.ListEntitiesResponse{Entities: entities}, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, _ *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	if f.beforeSubmit != nil {
		f.beforeSubmit()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastBatch = len(actions)
	if f.submitErr != nil {
		return aztables.TransactionResponse{}, f.submitErr
	}
	if len(actions) > MaxBatchActions {
		return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: 400, ErrorCode: "InvalidInput"}
	}
	type op struct {
		kind   aztables.TransactionType
		pk, rk string
		data   map[string]any
	}
	ops := make([]op, 0, len(actions))
	for _, a := range actions {
		m, pk, rk, err := decodeKeys(a.Entity)
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
		row, exists := f.rows[pk][rk]
		if a.IfMatch != nil && *a.IfMatch != azcore.ETagAny && (!exists || string(*a.IfMatch) != row.etag) {
			return aztables.TransactionResponse{}, &azcore.ResponseError{StatusCode: 412, ErrorCode: "UpdateConditionNotSatisfied"}
		}
		if (a.ActionType == aztables.TransactionTypeDelete || a.ActionType == aztables.TransactionTypeUpdateReplace) && !exists {
			return aztables.TransactionResponse{}, notFound()
		}
		ops = append(ops, op{kind: a.ActionType, pk: pk, rk: rk, data: m})
	}
	for _, o := range ops {
		if o.kind == aztables.TransactionTypeDelete {
			delete(f.rows[o.pk], o.rk)
			continue
		}
		f.put(o.pk, o.rk, o.data)
	}
	return aztables.TransactionResponse{}, nil
}

func newTestTables(t *testing.T) (*Tables, *fakeTable) {
	t.Helper()
	fake := newFakeTable()
	store := newTables(fake, log.New())
	ctx := context.Background()
	created := time.Unix(1690000000, 0).UTC()
	if err := store.CreateBoard(ctx, domain.Board{ID: "b1", OwnerID: "auth0|u1", Name: "Board", Version: 1, CreatedAt: created, UpdatedAt: created}); err != nil {
		t.Fatalf("create board: %v", err)
	}
	err := store.Update(ctx, "b1", func(tx *Tx) error {
		b := tx.Board()
		b.ColumnIDs = []string{"A", "B"}
		tx.PutBoard(b)
		tx.PutColumn(domain.Column{ID: "A", Title: "Todo", TaskIDs: []string{"T1", "T2"}})
		tx.PutColumn(domain.Column{ID: "B", Title: "Done", Position: 1})
		tx.PutTask(domain.Task{ID: "T1", ColumnID: "A", Title: "one", Labels: []string{"x"}, Priority: domain.PriorityHigh,
			Subtasks: []domain.Subtask{{Title: "sub", Done: true}}})
		tx.PutTask(domain.Task{ID: "T2", ColumnID: "A", Title: "two", Position: 1})
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store, fake
}

func TestTablesRoundTrip(t *testing.T) {
	store, _ := newTestTables(t)
	ctx := context.Background()

	snap, err := store.LoadBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.ETag == "" {
		t.Fatalf("expected etag from listing")
	}
	if snap.Board.Version != 2 || snap.Board.OwnerID != "auth0|u1" {
		t.Fatalf("unexpected board: %#v", snap.Board)
	}
	if !reflect.DeepEqual(snap.Board.ColumnIDs, []string{"A", "B"}) {
		t.Fatalf("unexpected column ids: %v", snap.Board.ColumnIDs)
	}
	t1 := snap.Tasks["T1"]
	if t1.Priority != domain.PriorityHigh || !reflect.DeepEqual(t1.Labels, []string{"x"}) || len(t1.Subtasks) != 1 || !t1.Subtasks[0].Done {
		t.Fatalf("task fields lost: %#v", t1)
	}
	if col := snap.Columns["B"]; col.BoardID != "b1" || len(col.TaskIDs) != 0 || col.TaskIDs == nil {
		t.Fatalf("unexpected column: %#v", col)
	}
	if boardID, err := store.Locate(ctx, RefTask, "T2"); err != nil || boardID != "b1" {
		t.Fatalf("locate: %q %v", boardID, err)
	}
	boards, err := store.ListBoards(ctx, "auth0|u1")
	if err != nil || len(boards) != 1 || boards[0].ID != "b1" {
		t.Fatalf("list boards: %#v %v", boards, err)
	}
}

func TestTablesFailedTransactionLeavesBoardUntouched(t *testing.T) {
	store, fake := newTestTables(t)
	ctx := context.Background()
	before, _ := store.LoadBoard(ctx, "b1")

	fake.submitErr = errors.New("connection reset")
	err := store.Update(ctx, "b1", func(tx *Tx) error {
		a, _ := tx.Column("A")
		b, _ := tx.Column("B")
		a.TaskIDs = []string{"T1"}
		b.TaskIDs = []string{"T2"}
		tx.PutColumn(a)
		tx.PutColumn(b)
		return nil
	})
	if !errors.Is(err, domain.ErrTransaction) {
		t.Fatalf("expected transaction failure, got %v", err)
	}
	after, _ := store.LoadBoard(ctx, "b1")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("board changed after failed transaction")
	}
}

func TestTablesConcurrentWriteIsConflict(t *testing.T) {
	store, fake := newTestTables(t)
	ctx := context.Background()

	fake.beforeSubmit = func() {
		fake.beforeSubmit = nil
		got, _ := fake.GetEntity(ctx, "b1", boardRowKey, nil)
		_, _ = fake.UpsertEntity(ctx, got.Value, nil)
	}
	err := store.Update(ctx, "b1", func(tx *Tx) error {
		b := tx.Board()
		b.Name = "renamed"
		tx.PutBoard(b)
		return nil
	})
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTablesRejectsOversizedBatch(t *testing.T) {
	store, fake := newTestTables(t)
	ctx := context.Background()
	submits := fake.submits

	err := store.Update(ctx, "b1", func(tx *Tx) error {
		for i := 0; i < MaxBatchActions; i++ {
			tx.PutTask(domain.Task{ID: fmt.Sprintf("bulk%d", i), ColumnID: "B"})
		}
		return nil
	})
	if !errors.Is(err, domain.ErrTransaction) {
		t.Fatalf("expected batch limit failure, got %v", err)
	}
	if fake.submits != submits {
		t.Fatalf("oversized batch must not be submitted")
	}
}

// seedColumn appends n tasks to column B in batches that fit one
// transaction each.
func seedColumn(t *testing.T, store *Tables, n int) []string {
	t.Helper()
	var ids []string
	for len(ids) < n {
		err := store.Update(context.Background(), "b1", func(tx *Tx) error {
			col, _ := tx.Column("B")
			for i := 0; i < 40 && len(ids) < n; i++ {
				id := fmt.Sprintf("bulk%03d", len(ids))
				ids = append(ids, id)
				tx.PutTask(domain.Task{ID: id, ColumnID: "B", Title: id, Position: len(col.TaskIDs)})
				col.TaskIDs = append(col.TaskIDs, id)
			}
			tx.PutColumn(col)
			return nil
		})
		if err != nil {
			t.Fatalf("seed column: %v", err)
		}
	}
	return ids
}

func TestTablesDeleteLargeBoard(t *testing.T) {
	store, fake := newTestTables(t)
	ctx := context.Background()
	ids := seedColumn(t, store, 120)
	submits := fake.submits

	if err := store.Update(ctx, "b1", func(tx *Tx) error {
		tx.DeleteBoard()
		return nil
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fake.rows["b1"]) != 0 {
		t.Fatalf("%d rows left in the board partition", len(fake.rows["b1"]))
	}
	if fake.submits != submits+2 {
		t.Fatalf("expected guarded batch plus one cleanup batch, got %d submits", fake.submits-submits)
	}
	if _, err := store.LoadBoard(ctx, "b1"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected board gone, got %v", err)
	}
	if _, err := store.Locate(ctx, RefTask, ids[len(ids)-1]); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected task ref gone, got %v", err)
	}
}

func TestTablesDeleteSurvivesCleanupFailure(t *testing.T) {
	store, fake := newTestTables(t)
	ctx := context.Background()
	seedColumn(t, store, 120)
	logger, hook := test.NewNullLogger()
	store.logger = logger

	calls := 0
	fake.beforeSubmit = func() {
		calls++
		if calls == 2 {
			fake.submitErr = errors.New("connection reset")
		}
	}
	if err := store.Update(ctx, "b1", func(tx *Tx) error {
		tx.DeleteBoard()
		return nil
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.LoadBoard(ctx, "b1"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected board gone, got %v", err)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != log.WarnLevel {
		t.Fatalf("expected cleanup failure warning")
	}
}

func TestTablesLargeReorderWritesContainersOnly(t *testing.T) {
	store, fake := newTestTables(t)
	ctx := context.Background()
	ids := seedColumn(t, store, 120)
	submits := fake.submits
	last := ids[len(ids)-1]
	stamp := time.Unix(1800000000, 0).UTC()

	err := store.Update(ctx, "b1", func(tx *Tx) error {
		col, _ := tx.Column("B")
		order := append([]string{last}, col.TaskIDs[:len(col.TaskIDs)-1]...)
		for i, id := range order {
			task, _ := tx.Task(id)
			if task.Position != i {
				task.Position, task.UpdatedAt = i, stamp
				tx.PutTask(task)
			}
		}
		col.TaskIDs, col.UpdatedAt = order, stamp
		tx.PutColumn(col)
		return nil
	})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if fake.submits != submits+1 {
		t.Fatalf("expected one transaction, got %d", fake.submits-submits)
	}
	if fake.lastBatch != 2 {
		t.Fatalf("expected column and board writes only, got %d actions", fake.lastBatch)
	}

	snap, err := store.LoadBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := snap.Columns["B"].TaskIDs; len(got) != len(ids) || got[0] != last {
		t.Fatalf("unexpected order %v", got)
	}
	if snap.Tasks[last].Position != 0 || snap.Tasks[ids[0]].Position != 1 {
		t.Fatalf("positions not derived from order: %d %d", snap.Tasks[last].Position, snap.Tasks[ids[0]].Position)
	}
	if snap.Columns["B"].Position != 1 {
		t.Fatalf("column position not derived: %d", snap.Columns["B"].Position)
	}
}

func TestTablesDeleteBoardDropsIndexes(t *testing.T) {
	store, fake := newTestTables(t)
	ctx := context.Background()

	if err := store.Update(ctx, "b1", func(tx *Tx) error {
		tx.DeleteBoard()
		return nil
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.LoadBoard(ctx, "b1"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected board gone, got %v", err)
	}
	if _, err := store.Locate(ctx, RefColumn, "A"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected column ref gone, got %v", err)
	}
	if len(fake.rows[ownerPrefix+"auth0|u1"]) != 0 {
		t.Fatalf("owner index entry left behind")
	}
}

func TestTablesLoadRejectsMalformedID(t *testing.T) {
	store, _ := newTestTables(t)
	if _, err := store.LoadBoard(context.Background(), "x' or 1 eq 1"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
