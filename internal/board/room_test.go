package board

import (
	"fmt"
	"testing"
	"time"

	"whiteboard/protocol"
)

// 颜色按加入顺序轮转，超过 10 人后从头复用；同一用户重复加入颜色粘滞
func TestColorAssignmentRoundRobin(t *testing.T) {
	room := NewRoom("r1")
	now := time.Now()

	first := room.AddUser("u0", "a", now)
	var eleventh protocol.UserInfo
	for i := 1; i <= 10; i++ {
		eleventh = room.AddUser(fmt.Sprintf("u%d", i), "x", now)
	}
	if eleventh.Color != first.Color {
		t.Errorf("11th user color = %s, want palette reuse of %s", eleventh.Color, first.Color)
	}

	again := room.AddUser("u0", "a", now)
	if again.Color != first.Color {
		t.Errorf("rejoin color = %s, want sticky %s", again.Color, first.Color)
	}
}

func TestColorReleaseDoesNotRewindCounter(t *testing.T) {
	room := NewRoom("r1")
	now := time.Now()

	u1 := room.AddUser("u1", "a", now)
	room.RemoveUser("u1")

	// 释放只解除绑定，计数器继续前进：新用户拿到的是下一格颜色
	u2 := room.AddUser("u2", "b", now)
	if u2.Color == u1.Color {
		t.Errorf("next user got recycled color %s, counter should advance", u2.Color)
	}
}

// 进度追加只认作者：u2 往 u1 的操作里塞点必须被丢弃
func TestAppendProgressOwnership(t *testing.T) {
	room := NewRoom("r1")
	op := &protocol.Operation{
		ID: "abc", UserID: "u1", Type: protocol.OpDraw, Open: true,
		Path: []protocol.Point{{X: 1, Y: 1}},
	}
	room.AppendOperation(op)

	if room.AppendProgress("abc", "u2", protocol.Point{X: 2, Y: 2}) {
		t.Fatal("progress from non-owner must be dropped")
	}
	if len(op.Path) != 1 {
		t.Fatalf("path mutated by non-owner: len=%d", len(op.Path))
	}

	if !room.AppendProgress("abc", "u1", protocol.Point{X: 2, Y: 2}) {
		t.Fatal("owner progress rejected")
	}
	if len(op.Path) != 2 {
		t.Fatalf("owner progress not applied: len=%d", len(op.Path))
	}
}

func TestAppendProgressUnknownID(t *testing.T) {
	room := NewRoom("r1")
	if room.AppendProgress("no-such-op", "u1", protocol.Point{}) {
		t.Fatal("progress on unknown id must be dropped")
	}
}

// 收到 draw-end 后作者的追加也不再被接受
func TestAppendProgressAfterClose(t *testing.T) {
	room := NewRoom("r1")
	op := &protocol.Operation{ID: "abc", UserID: "u1", Type: protocol.OpDraw, Open: true}
	room.AppendOperation(op)
	room.CloseOperation("abc", "u1")

	if room.AppendProgress("abc", "u1", protocol.Point{X: 1, Y: 1}) {
		t.Fatal("progress after close must be dropped")
	}
}

// 非作者发 draw-end 不能替作者关闭操作
func TestCloseOperationOwnership(t *testing.T) {
	room := NewRoom("r1")
	op := &protocol.Operation{ID: "abc", UserID: "u1", Type: protocol.OpDraw, Open: true}
	room.AppendOperation(op)

	room.CloseOperation("abc", "u2")
	if !op.Open {
		t.Fatal("non-owner closed someone else's operation")
	}
}

func TestSweepIdleEvictsOnlyStale(t *testing.T) {
	room := NewRoom("r1")
	base := time.Now()
	room.AddUser("stale", "a", base.Add(-10*time.Minute))
	room.AddUser("fresh", "b", base)

	evicted := room.SweepIdle(5*time.Minute, base)
	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Fatalf("evicted = %v, want [stale]", evicted)
	}
	if room.UserCount() != 1 {
		t.Fatalf("UserCount = %d, want 1", room.UserCount())
	}
}

func TestRegistryEnsureRoomLazyCreate(t *testing.T) {
	reg := NewRegistry()
	if reg.Lookup("r1") != nil {
		t.Fatal("Lookup should not create rooms")
	}
	r1 := reg.EnsureRoom("r1")
	if r1 == nil {
		t.Fatal("EnsureRoom returned nil")
	}
	if reg.EnsureRoom("r1") != r1 {
		t.Fatal("EnsureRoom must return the same room on repeat")
	}
	if len(reg.Rooms()) != 1 {
		t.Fatalf("Rooms() = %d entries, want 1", len(reg.Rooms()))
	}
}
