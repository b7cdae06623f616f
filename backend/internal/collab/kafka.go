package collab

import (
	"strconv"
	"time"

	"followServer/backend/internal/ot/delta"
	"followServer/backend/internal/proto"
)

// Event 是写入 Kafka 的一条审计记录，按 PartitionKey 分区
type Event interface {
	PartitionKey() string
	Kind() string
}

type ViewUpdateEvent struct {
	EventType   string       `json:"eventType"` // "VIEW_CREATED" / "VIEW_UPDATED" / "VIEW_CLOSED"
	View        proto.ViewID `json:"view"`
	OperationID string       `json:"operationId"`
	LeaderPeer  string       `json:"leaderPeer"`
	Inserted    int          `json:"inserted"`
	Deleted     int          `json:"deleted"`
	Selections  int          `json:"selections"`
	At          time.Time    `json:"at"`
}

func (e ViewUpdateEvent) Kind() string { return e.EventType }

func (e ViewUpdateEvent) PartitionKey() string {
	return e.View.Creator + "/" + strconv.FormatUint(e.View.ID, 10)
}

type BufferOpEvent struct {
	EventType   string      `json:"eventType"` // 固定 "OP_APPLIED"
	BufferID    uint64      `json:"bufferId"`
	OperationID string      `json:"operationId"`
	Revision    uint64      `json:"revision"`
	AuthorPeer  string      `json:"authorPeer"`
	Ops         delta.Delta `json:"ops"`
	AppliedAt   time.Time   `json:"appliedAt"`
}

func (e BufferOpEvent) Kind() string { return e.EventType }

func (e BufferOpEvent) PartitionKey() string {
	return strconv.FormatUint(e.BufferID, 10)
}
