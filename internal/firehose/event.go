package firehose

import (
	"time"

	"whiteboard/protocol"
)

// 事件类型
const (
	EventOpApplied     = "OP_APPLIED"
	EventOpUndone      = "OP_UNDONE"
	EventCanvasCleared = "CANVAS_CLEARED"
)

// BoardOpEvent 对外的操作事件流载荷。房间状态从不依赖它，
// 纯粹是给下游（回放/统计）消费的 fire-and-forget 流。
type BoardOpEvent struct {
	EventType   string              `json:"eventType"`
	RoomID      string              `json:"roomId"`
	OperationID string              `json:"operationId"`
	UserID      string              `json:"userId"`
	OpType      string              `json:"opType,omitempty"`
	Operation   *protocol.Operation `json:"operation,omitempty"`
	AppliedAt   time.Time           `json:"appliedAt"`
}
