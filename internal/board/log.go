package board

import (
	"time"

	"whiteboard/protocol"
)

// MaxOperations 每个房间操作日志的容量。超过后从头部淘汰最旧的一条，
// 旧历史静默丢失是预期行为（有界内存优先于完整历史）。
const MaxOperations = 500

// OperationLog 单个房间的权威操作日志：有序、有界、只追加（undo/clear 例外）。
// 不做并发保护，由持有它的 Room 统一加锁。
type OperationLog struct {
	ops []*protocol.Operation
}

func NewOperationLog() *OperationLog {
	return &OperationLog{}
}

func (l *OperationLog) Append(op *protocol.Operation) {
	l.ops = append(l.ops, op)
	if len(l.ops) > MaxOperations {
		// 淘汰 index 0，不区分作者
		l.ops = l.ops[1:]
	}
}

// FindOpen 按 id 定位仍处于 open 状态的操作，供增量追加路径点。
// 找不到或已关闭都返回 nil，调用方按"静默丢弃"处理。
func (l *OperationLog) FindOpen(id string) *protocol.Operation {
	for i := len(l.ops) - 1; i >= 0; i-- {
		if l.ops[i].ID == id {
			if !l.ops[i].Open {
				return nil
			}
			return l.ops[i]
		}
	}
	return nil
}

// Close 收到 draw-end 后关闭操作，此后作者的追加不再被接受
func (l *OperationLog) Close(id string) {
	for i := len(l.ops) - 1; i >= 0; i-- {
		if l.ops[i].ID == id {
			l.ops[i].Open = false
			return
		}
	}
}

// UndoLast 从尾部向前找该作者最近的一条操作，摘除并返回。
// 注意语义：这是"按作者限定的最近一次撤销"，不是任意全局撤销——
// 扫描过程中跳过其他人的操作，绝不会替别人撤销。没有可撤销的返回 nil。
// 清屏标记同样跳过：清屏不可撤销，发起人随后的 undo 不能把标记抠掉。
func (l *OperationLog) UndoLast(userID string) *protocol.Operation {
	for i := len(l.ops) - 1; i >= 0; i-- {
		if l.ops[i].Type == protocol.OpClear {
			continue
		}
		if l.ops[i].UserID == userID {
			op := l.ops[i]
			l.ops = append(l.ops[:i], l.ops[i+1:]...)
			return op
		}
	}
	return nil
}

// Clear 整个日志替换为一条合成的清屏标记。清屏本身不可撤销。
func (l *OperationLog) Clear(marker *protocol.Operation) {
	l.ops = []*protocol.Operation{marker}
}

func (l *OperationLog) Len() int {
	return len(l.ops)
}

// Snapshot 返回日志的浅拷贝切片，供加入房间时一次性下发
func (l *OperationLog) Snapshot() []*protocol.Operation {
	out := make([]*protocol.Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// AppendPoint 给 open 状态的操作追加一个点；路径封顶后静默忽略。
// 返回是否真正追加了（决定要不要转发这条增量）。
func AppendPoint(op *protocol.Operation, p protocol.Point) bool {
	if len(op.Path) >= protocol.MaxPathPoints {
		return false
	}
	op.Path = append(op.Path, protocol.ClampPoint(p))
	return true
}

// NewClearMarker 构造清屏标记操作
func NewClearMarker(id, userID string, now time.Time) *protocol.Operation {
	return &protocol.Operation{
		ID:        id,
		UserID:    userID,
		Type:      protocol.OpClear,
		Timestamp: now,
	}
}
