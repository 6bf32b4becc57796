package board

import (
	"fmt"
	"testing"
	"time"

	"whiteboard/protocol"
)

func makeOp(id, userID string) *protocol.Operation {
	return &protocol.Operation{
		ID:        id,
		UserID:    userID,
		Type:      protocol.OpDraw,
		Timestamp: time.Now(),
		Path:      []protocol.Point{{X: 1, Y: 1}},
	}
}

// 第 501 条入账时，恰好淘汰 index 0 的那条，长度永远不超过 500
func TestLogEvictsOldestAt501(t *testing.T) {
	l := NewOperationLog()
	for i := 0; i < MaxOperations; i++ {
		l.Append(makeOp(fmt.Sprintf("op-%d", i), "u1"))
	}
	if l.Len() != MaxOperations {
		t.Fatalf("Len() = %d, want %d", l.Len(), MaxOperations)
	}

	l.Append(makeOp("op-overflow", "u1"))

	if l.Len() != MaxOperations {
		t.Fatalf("after overflow Len() = %d, want %d", l.Len(), MaxOperations)
	}
	ops := l.Snapshot()
	if ops[0].ID != "op-1" {
		t.Errorf("oldest surviving op = %s, want op-1 (op-0 evicted)", ops[0].ID)
	}
	if ops[len(ops)-1].ID != "op-overflow" {
		t.Errorf("newest op = %s, want op-overflow", ops[len(ops)-1].ID)
	}
}

// 撤销只认作者自己的最近一条：[A(u1), B(u2), C(u1)] 撤销 u1 得到 C
func TestUndoLastSkipsOtherAuthors(t *testing.T) {
	l := NewOperationLog()
	l.Append(makeOp("A", "u1"))
	l.Append(makeOp("B", "u2"))
	l.Append(makeOp("C", "u1"))

	removed := l.UndoLast("u1")
	if removed == nil || removed.ID != "C" {
		t.Fatalf("UndoLast(u1) = %v, want C", removed)
	}

	ops := l.Snapshot()
	if len(ops) != 2 || ops[0].ID != "A" || ops[1].ID != "B" {
		t.Fatalf("log after undo = %v, want [A B]", idsOf(ops))
	}
}

func TestUndoLastNothingToUndo(t *testing.T) {
	l := NewOperationLog()
	if removed := l.UndoLast("u1"); removed != nil {
		t.Fatalf("UndoLast on empty log = %v, want nil", removed)
	}

	l.Append(makeOp("A", "u2"))
	if removed := l.UndoLast("u1"); removed != nil {
		t.Fatalf("UndoLast for user without ops = %v, want nil", removed)
	}
	if l.Len() != 1 {
		t.Errorf("log mutated by failed undo, Len() = %d", l.Len())
	}
}

func TestClearCollapsesToSingleMarker(t *testing.T) {
	l := NewOperationLog()
	for i := 0; i < 10; i++ {
		l.Append(makeOp(fmt.Sprintf("op-%d", i), "u1"))
	}
	marker := NewClearMarker("clear-1", "u1", time.Now())
	l.Clear(marker)

	if l.Len() != 1 {
		t.Fatalf("Len() after clear = %d, want 1", l.Len())
	}
	ops := l.Snapshot()
	if ops[0].Type != protocol.OpClear || ops[0].ID != "clear-1" {
		t.Errorf("surviving op = %+v, want the clear marker", ops[0])
	}

	if removed := l.UndoLast("u2"); removed != nil {
		t.Errorf("other user undo after clear = %v, want nil", removed)
	}
}

// 清屏不可撤销：标记挂着发起者的 userId，但发起者自己的 undo
// 必须跳过它——否则 clear 紧跟 undo 会把标记抠掉、日志归零
func TestUndoSkipsClearMarker(t *testing.T) {
	l := NewOperationLog()
	l.Append(makeOp("a", "u1"))
	l.Clear(NewClearMarker("marker", "u1", time.Now()))

	if removed := l.UndoLast("u1"); removed != nil {
		t.Fatalf("originator undo after clear removed %q, want nil", removed.ID)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() after undo = %d, want the marker to survive", l.Len())
	}
	if l.Snapshot()[0].ID != "marker" {
		t.Errorf("surviving op = %+v, want the clear marker", l.Snapshot()[0])
	}
}

func TestFindOpenAndClose(t *testing.T) {
	l := NewOperationLog()
	op := makeOp("stroke-1", "u1")
	op.Open = true
	l.Append(op)

	if got := l.FindOpen("stroke-1"); got != op {
		t.Fatalf("FindOpen returned %v, want the open op", got)
	}
	if got := l.FindOpen("missing"); got != nil {
		t.Fatalf("FindOpen(missing) = %v, want nil", got)
	}

	l.Close("stroke-1")
	if got := l.FindOpen("stroke-1"); got != nil {
		t.Fatalf("FindOpen after close = %v, want nil", got)
	}
}

// 路径封顶 10000 点，超出的静默忽略
func TestAppendPointCap(t *testing.T) {
	op := makeOp("stroke-1", "u1")
	op.Path = make([]protocol.Point, protocol.MaxPathPoints)

	if AppendPoint(op, protocol.Point{X: 1, Y: 1}) {
		t.Fatal("AppendPoint beyond cap should report false")
	}
	if len(op.Path) != protocol.MaxPathPoints {
		t.Fatalf("path grew past cap: %d", len(op.Path))
	}
}

// 追加点的坐标要钳到非负
func TestAppendPointClampsNegative(t *testing.T) {
	op := makeOp("stroke-1", "u1")
	AppendPoint(op, protocol.Point{X: -5, Y: -3})
	last := op.Path[len(op.Path)-1]
	if last.X != 0 || last.Y != 0 {
		t.Fatalf("negative point stored as (%v,%v), want (0,0)", last.X, last.Y)
	}
}

func idsOf(ops []*protocol.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}
