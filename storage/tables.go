package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// MaxBatchActions is the entity limit of one Azure Tables transaction.
const MaxBatchActions = 100

// tableClient is the subset of *aztables.Client used by Tables.
type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tableSubmitTransactionOptions *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables stores boards in one Azure table. Every board is its own
// partition so each mutation commits as a single entity group
// transaction, guarded by the board entity's ETag.
//
// Column and task positions are derived from the id sequences on load and
// are not rewritten when only the index changes, so reordering a long
// column touches the column and board entities only. Deletes beyond the
// batch limit are committed after the guarded batch; by then the rows are
// no longer referenced by the board.
type Tables struct {
	client tableClient
	logger *log.Logger
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, table string, logger *log.Logger) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTables(svc.NewClient(table), logger), nil
}

func newTables(client tableClient, logger *log.Logger) *Tables {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Tables{client: client, logger: logger}
}

func (t *Tables) CreateBoard(ctx context.Context, b domain.Board) error {
	payload, err := encodeBoard(b)
	if err != nil {
		return err
	}
	if _, err := t.client.AddEntity(ctx, payload, nil); err != nil {
		if statusCode(err) == http.StatusConflict {
			return fmt.Errorf("%w: board %s already exists", domain.ErrTransaction, b.ID)
		}
		return err
	}
	idx, err := json.Marshal(OwnerEntity{
		Entity:        Entity{PartitionKey: ownerPrefix + b.OwnerID, RowKey: b.ID},
		Name:          b.Name,
		CreatedAt:     unixNano(b.CreatedAt),
		CreatedAtType: EdmInt64,
	})
	if err != nil {
		return err
	}
	_, err = t.client.UpsertEntity(ctx, idx, nil)
	return err
}

func (t *Tables) LoadBoard(ctx context.Context, boardID string) (*Snapshot, error) {
	if !domain.ValidID(boardID) {
		return nil, domain.NotFoundf("board %s", boardID)
	}
	filter := "PartitionKey eq '" + boardID + "'"
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var snap *Snapshot
	columns := map[string]domain.Column{}
	tasks := map[string]domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var keys listedEntity
			if err := json.Unmarshal(raw, &keys); err != nil {
				return nil, err
			}
			switch {
			case keys.RowKey == boardRowKey:
				b, err := decodeBoard(raw)
				if err != nil {
					return nil, err
				}
				snap = newSnapshot(b)
				snap.ETag = keys.ETag
			case strings.HasPrefix(keys.RowKey, columnPrefix):
				c, err := decodeColumn(raw)
				if err != nil {
					return nil, err
				}
				columns[c.ID] = c
			case strings.HasPrefix(keys.RowKey, taskPrefix):
				task, err := decodeTask(raw)
				if err != nil {
					return nil, err
				}
				tasks[task.ID] = task
			}
		}
	}
	if snap == nil {
		return nil, domain.NotFoundf("board %s", boardID)
	}
	for i, cid := range snap.Board.ColumnIDs {
		c, ok := columns[cid]
		if !ok {
			continue
		}
		columns[cid] = c.WithPosition(i)
		for j, tid := range c.TaskIDs {
			if task, ok := tasks[tid]; ok {
				tasks[tid] = task.WithPosition(j)
			}
		}
	}
	snap.Columns = columns
	snap.Tasks = tasks
	return snap, nil
}

func (t *Tables) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	filter := "PartitionKey eq '" + escapeOData(ownerPrefix+ownerID) + "'"
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent OwnerEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			got, err := t.client.GetEntity(ctx, ent.RowKey, boardRowKey, nil)
			if err != nil {
				if statusCode(err) == http.StatusNotFound {
					continue
				}
				return nil, err
			}
			b, err := decodeBoard(got.Value)
			if err != nil {
				return nil, err
			}
			boards = append(boards, b)
		}
	}
	sort.Slice(boards, func(i, j int) bool {
		if boards[i].CreatedAt.Equal(boards[j].CreatedAt) {
			return boards[i].ID < boards[j].ID
		}
		return boards[i].CreatedAt.Before(boards[j].CreatedAt)
	})
	return boards, nil
}

func (t *Tables) Locate(ctx context.Context, kind RefKind, id string) (string, error) {
	got, err := t.client.GetEntity(ctx, refPartition, refRowKey(kind, id), nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return "", domain.NotFoundf("%s %s", kind, id)
		}
		return "", err
	}
	var ref RefEntity
	if err := json.Unmarshal(got.Value, &ref); err != nil {
		return "", err
	}
	return ref.BoardID, nil
}

func (t *Tables) Update(ctx context.Context, boardID string, fn func(*Tx) error) error {
	snap, err := t.LoadBoard(ctx, boardID)
	if err != nil {
		return err
	}
	tx := NewTx(snap)
	if err := fn(tx); err != nil {
		return err
	}
	ch := tx.Changes()
	if ch.Empty() {
		return nil
	}
	ch = dropDerivedWrites(snap, ch)
	batch, cleanup, err := transactionActions(boardID, snap.ETag, ch)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}
	if len(batch) > MaxBatchActions {
		return fmt.Errorf("%w: %d entity writes exceed the batch limit of %d", domain.ErrTransaction, len(batch), MaxBatchActions)
	}
	// Refs live in their own partition. They are written ahead of the batch
	// so a reader never finds a committed document it cannot locate; a ref
	// left behind by a failed batch resolves to a board without the member.
	if err := t.putRefs(ctx, boardID, ch); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}
	if _, err := t.client.SubmitTransaction(ctx, batch, nil); err != nil {
		return classifyTableError(err)
	}
	t.deleteRemaining(ctx, boardID, cleanup)
	t.dropRefs(ctx, snap.Board.OwnerID, boardID, ch)
	return nil
}

// dropDerivedWrites removes puts of existing columns and tasks that differ
// from the stored row only in Position or UpdatedAt. Positions are rebuilt
// from the id sequences on load.
func dropDerivedWrites(snap *Snapshot, ch Changes) Changes {
	var cols []domain.Column
	for _, c := range ch.PutColumns {
		if old, ok := snap.Columns[c.ID]; ok {
			old.Position, old.UpdatedAt = c.Position, c.UpdatedAt
			if reflect.DeepEqual(canonColumn(old), canonColumn(c)) {
				continue
			}
		}
		cols = append(cols, c)
	}
	var tasks []domain.Task
	for _, task := range ch.PutTasks {
		if old, ok := snap.Tasks[task.ID]; ok {
			old.Position, old.UpdatedAt = task.Position, task.UpdatedAt
			if reflect.DeepEqual(canonTask(old), canonTask(task)) {
				continue
			}
		}
		tasks = append(tasks, task)
	}
	ch.PutColumns, ch.PutTasks = cols, tasks
	return ch
}

// transactionActions splits ch into the guarded batch and the deletes that
// did not fit. The batch holds every put and the board entity, so it alone
// decides whether the mutation commits; deletes fill the remaining room,
// columns first.
func transactionActions(boardID, etag string, ch Changes) (batch, cleanup []aztables.TransactionAction, err error) {
	actions := make([]aztables.TransactionAction, 0, ch.Count())
	var ifMatch *azcore.ETag
	if etag != "" {
		e := azcore.ETag(etag)
		ifMatch = &e
	}
	for _, c := range ch.PutColumns {
		payload, err := encodeColumn(c)
		if err != nil {
			return nil, nil, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: payload})
	}
	for _, task := range ch.PutTasks {
		payload, err := encodeTask(boardID, task)
		if err != nil {
			return nil, nil, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace, Entity: payload})
	}
	switch {
	case ch.DeleteBoard:
		payload, err := keysOnly(boardID, boardRowKey)
		if err != nil {
			return nil, nil, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload, IfMatch: ifMatch})
	case ch.BoardChanged:
		payload, err := encodeBoard(ch.Board)
		if err != nil {
			return nil, nil, err
		}
		actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeUpdateReplace, Entity: payload, IfMatch: ifMatch})
	}
	rowKeys := make([]string, 0, len(ch.DeleteColumns)+len(ch.DeleteTasks))
	for _, id := range ch.DeleteColumns {
		rowKeys = append(rowKeys, columnPrefix+id)
	}
	for _, id := range ch.DeleteTasks {
		rowKeys = append(rowKeys, taskPrefix+id)
	}
	for _, rk := range rowKeys {
		payload, err := keysOnly(boardID, rk)
		if err != nil {
			return nil, nil, err
		}
		action := aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload}
		if len(actions) < MaxBatchActions {
			actions = append(actions, action)
		} else {
			cleanup = append(cleanup, action)
		}
	}
	return actions, cleanup, nil
}

// deleteRemaining submits deletes left over from the guarded batch in
// chunks. The rows are unreachable once the batch committed, so failures
// only leave garbage in the partition and are logged.
func (t *Tables) deleteRemaining(ctx context.Context, boardID string, actions []aztables.TransactionAction) {
	for len(actions) > 0 {
		n := min(len(actions), MaxBatchActions)
		if _, err := t.client.SubmitTransaction(ctx, actions[:n], nil); err != nil {
			t.logger.WithFields(log.Fields{"board": boardID, "rows": n}).Warnf("delete unreferenced rows: %v", err)
		}
		actions = actions[n:]
	}
}

func (t *Tables) putRefs(ctx context.Context, boardID string, ch Changes) error {
	put := func(kind RefKind, id string) error {
		payload, err := json.Marshal(RefEntity{Entity: Entity{PartitionKey: refPartition, RowKey: refRowKey(kind, id)}, BoardID: boardID})
		if err != nil {
			return err
		}
		_, err = t.client.UpsertEntity(ctx, payload, nil)
		return err
	}
	for _, id := range ch.NewColumns {
		if err := put(RefColumn, id); err != nil {
			return err
		}
	}
	for _, id := range ch.NewTasks {
		if err := put(RefTask, id); err != nil {
			return err
		}
	}
	return nil
}

// dropRefs removes index entries for deleted documents. Failures only leave
// stale refs behind, so they are logged and not returned.
func (t *Tables) dropRefs(ctx context.Context, ownerID, boardID string, ch Changes) {
	drop := func(pk, rk string) {
		if _, err := t.client.DeleteEntity(ctx, pk, rk, nil); err != nil && statusCode(err) != http.StatusNotFound {
			t.logger.WithFields(log.Fields{"board": boardID, "partition": pk, "row": rk}).Warnf("drop index entry: %v", err)
		}
	}
	for _, id := range ch.DeleteColumns {
		drop(refPartition, refRowKey(RefColumn, id))
	}
	for _, id := range ch.DeleteTasks {
		drop(refPartition, refRowKey(RefTask, id))
	}
	if ch.DeleteBoard {
		drop(ownerPrefix+ownerID, boardID)
	}
}

func classifyTableError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		if respErr.StatusCode == http.StatusPreconditionFailed || respErr.ErrorCode == "UpdateConditionNotSatisfied" {
			return domain.ErrConcurrencyConflict
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}
