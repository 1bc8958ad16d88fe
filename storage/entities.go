package storage

import (
	"encoding/json"
	"strings"
	"time"

	"prism-board/domain"
)

const (
	EdmInt64 = "Edm.Int64"

	boardRowKey  = "board"
	columnPrefix = "column_"
	taskPrefix   = "task_"
	refPartition = "ref"
	ownerPrefix  = "owner_"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type listedEntity struct {
	Entity
	ETag string `json:"odata.etag,omitempty"`
}

// BoardEntity is the board document as stored in Azure Tables. Id
// sequences are kept as JSON arrays because tables have no list type.
type BoardEntity struct {
	Entity
	Name          string `json:"Name"`
	OwnerID       string `json:"OwnerId"`
	ColumnIDs     string `json:"ColumnIds"`
	Version       int64  `json:"Version,string"`
	VersionType   string `json:"Version@odata.type"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// ColumnEntity is a column document.
type ColumnEntity struct {
	Entity
	ColumnID      string `json:"ColumnId"`
	Title         string `json:"Title"`
	TaskIDs       string `json:"TaskIds"`
	Position      int    `json:"Position"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// TaskEntity is a task document.
type TaskEntity struct {
	Entity
	TaskID        string `json:"TaskId"`
	ColumnID      string `json:"ColumnId"`
	Title         string `json:"Title"`
	Description   string `json:"Description,omitempty"`
	Position      int    `json:"Position"`
	Labels        string `json:"Labels,omitempty"`
	Priority      string `json:"Priority,omitempty"`
	Subtasks      string `json:"Subtasks,omitempty"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

// RefEntity maps a column or task id to its board.
type RefEntity struct {
	Entity
	BoardID string `json:"BoardId"`
}

// OwnerEntity indexes a board under its owner's partition.
type OwnerEntity struct {
	Entity
	Name          string `json:"Name"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func encodeBoard(b domain.Board) ([]byte, error) {
	ids, err := json.Marshal(nonNil(b.ColumnIDs))
	if err != nil {
		return nil, err
	}
	return json.Marshal(BoardEntity{
		Entity:        Entity{PartitionKey: b.ID, RowKey: boardRowKey},
		Name:          b.Name,
		OwnerID:       b.OwnerID,
		ColumnIDs:     string(ids),
		Version:       b.Version,
		VersionType:   EdmInt64,
		CreatedAt:     unixNano(b.CreatedAt),
		CreatedAtType: EdmInt64,
		UpdatedAt:     unixNano(b.UpdatedAt),
		UpdatedAtType: EdmInt64,
	})
}

func decodeBoard(data []byte) (domain.Board, error) {
	var ent BoardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	b := domain.Board{
		ID:        ent.PartitionKey,
		Name:      ent.Name,
		OwnerID:   ent.OwnerID,
		Version:   ent.Version,
		CreatedAt: fromUnixNano(ent.CreatedAt),
		UpdatedAt: fromUnixNano(ent.UpdatedAt),
	}
	if err := decodeList(ent.ColumnIDs, &b.ColumnIDs); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

func encodeColumn(c domain.Column) ([]byte, error) {
	ids, err := json.Marshal(nonNil(c.TaskIDs))
	if err != nil {
		return nil, err
	}
	return json.Marshal(ColumnEntity{
		Entity:        Entity{PartitionKey: c.BoardID, RowKey: columnPrefix + c.ID},
		ColumnID:      c.ID,
		Title:         c.Title,
		TaskIDs:       string(ids),
		Position:      c.Position,
		UpdatedAt:     unixNano(c.UpdatedAt),
		UpdatedAtType: EdmInt64,
	})
}

func decodeColumn(data []byte) (domain.Column, error) {
	var ent ColumnEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Column{}, err
	}
	c := domain.Column{
		ID:        ent.ColumnID,
		BoardID:   ent.PartitionKey,
		Title:     ent.Title,
		Position:  ent.Position,
		UpdatedAt: fromUnixNano(ent.UpdatedAt),
	}
	if err := decodeList(ent.TaskIDs, &c.TaskIDs); err != nil {
		return domain.Column{}, err
	}
	return c, nil
}

func encodeTask(boardID string, t domain.Task) ([]byte, error) {
	ent := TaskEntity{
		Entity:        Entity{PartitionKey: boardID, RowKey: taskPrefix + t.ID},
		TaskID:        t.ID,
		ColumnID:      t.ColumnID,
		Title:         t.Title,
		Description:   t.Description,
		Position:      t.Position,
		Priority:      string(t.Priority),
		UpdatedAt:     unixNano(t.UpdatedAt),
		UpdatedAtType: EdmInt64,
	}
	if len(t.Labels) > 0 {
		raw, err := json.Marshal(t.Labels)
		if err != nil {
			return nil, err
		}
		ent.Labels = string(raw)
	}
	if len(t.Subtasks) > 0 {
		raw, err := json.Marshal(t.Subtasks)
		if err != nil {
			return nil, err
		}
		ent.Subtasks = string(raw)
	}
	return json.Marshal(ent)
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent TaskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:          ent.TaskID,
		ColumnID:    ent.ColumnID,
		Title:       ent.Title,
		Description: ent.Description,
		Position:    ent.Position,
		Priority:    domain.Priority(ent.Priority),
		UpdatedAt:   fromUnixNano(ent.UpdatedAt),
	}
	if ent.Labels != "" {
		if err := json.Unmarshal([]byte(ent.Labels), &t.Labels); err != nil {
			return domain.Task{}, err
		}
	}
	if ent.Subtasks != "" {
		if err := json.Unmarshal([]byte(ent.Subtasks), &t.Subtasks); err != nil {
			return domain.Task{}, err
		}
	}
	return t, nil
}

func keysOnly(pk, rk string) ([]byte, error) {
	return json.Marshal(Entity{PartitionKey: pk, RowKey: rk})
}

func refRowKey(kind RefKind, id string) string {
	return string(kind) + "_" + id
}

// escapeOData quotes a value for use inside a single quoted filter literal.
func escapeOData(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func decodeList(raw string, out *[]string) error {
	if raw == "" {
		*out = []string{}
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
