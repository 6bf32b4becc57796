package ws

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"whiteboard/client"
	"whiteboard/internal/board"
	"whiteboard/internal/cache"
	"whiteboard/internal/relay"
	"whiteboard/protocol"
)

func startServer(t *testing.T) (wsURL string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := relay.NewService(board.NewRegistry(), cache.NewMemoryPresence(), nil, time.Minute)
	mgr := NewManager(NewHub(), svc)

	r := gin.New()
	r.GET("/ws", mgr.WebSocketConnect)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, wsURL, roomID, name string) *client.Client {
	t.Helper()
	c := client.New(wsURL, nil)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Join(roomID, name); err != nil {
		t.Fatalf("join: %v", err)
	}
	return c
}

// 协议没有确认，只能轮询等广播到达
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// 笔画从 c1 流式发出，c2 实时收到逐点进度，
// 收笔后晚加入的 c3 靠 Snapshot 一次性拿到完整路径
func TestStrokeRelayAndSnapshot(t *testing.T) {
	wsURL := startServer(t)
	const n = 15

	c1 := connect(t, wsURL, "room-e2e", "alice")
	c2 := connect(t, wsURL, "room-e2e", "bob")

	waitFor(t, "c1 to see bob", func() bool { return len(c1.Users()) == 2 })

	opID := c1.StartStroke(protocol.Point{X: 0, Y: 0}, "#ff0000", 3)
	for i := 1; i <= n; i++ {
		c1.AddPoint(opID, protocol.Point{X: float64(i), Y: float64(i)})
	}
	c1.EndStroke(opID)

	waitFor(t, "stroke to reach c2", func() bool {
		ops := c2.Mirror()
		return len(ops) == 1 && len(ops[0].Path) == n+1 && !ops[0].Open
	})
	ops := c2.Mirror()
	if ops[0].ID != opID {
		t.Fatalf("relayed op id = %s, want %s", ops[0].ID, opID)
	}
	for i, p := range ops[0].Path {
		if p.X != float64(i) || p.Y != float64(i) {
			t.Fatalf("point %d out of order: %+v", i, p)
		}
	}

	c3 := connect(t, wsURL, "room-e2e", "carol")
	waitFor(t, "snapshot at c3", func() bool {
		ops := c3.Mirror()
		return len(ops) == 1 && len(ops[0].Path) == n+1
	})
}

// 清屏广播包含发送者：c1 自己的镜像也要等回显后坍缩
func TestClearReachesEveryoneIncludingSender(t *testing.T) {
	wsURL := startServer(t)

	c1 := connect(t, wsURL, "room-clear", "alice")
	c2 := connect(t, wsURL, "room-clear", "bob")
	waitFor(t, "c1 to see bob", func() bool { return len(c1.Users()) == 2 })

	opID := c1.StartStroke(protocol.Point{X: 1, Y: 1}, "#000000", 2)
	c1.EndStroke(opID)
	waitFor(t, "stroke at c2", func() bool { return len(c2.Mirror()) == 1 })

	c1.ClearCanvas()

	for name, c := range map[string]*client.Client{"sender": c1, "peer": c2} {
		c := c
		waitFor(t, name+" mirror to collapse", func() bool {
			ops := c.Mirror()
			return len(ops) == 1 && ops[0].Type == protocol.OpClear
		})
	}
}

func TestUndoPropagates(t *testing.T) {
	wsURL := startServer(t)

	c1 := connect(t, wsURL, "room-undo", "alice")
	c2 := connect(t, wsURL, "room-undo", "bob")
	waitFor(t, "c1 to see bob", func() bool { return len(c1.Users()) == 2 })

	opID := c1.StartStroke(protocol.Point{X: 1, Y: 1}, "#000000", 2)
	c1.EndStroke(opID)
	waitFor(t, "stroke at c2", func() bool { return len(c2.Mirror()) == 1 })

	c1.Undo()
	waitFor(t, "undo at c2", func() bool { return len(c2.Mirror()) == 0 })
	if len(c1.Mirror()) != 0 {
		t.Error("sender mirror still holds the undone op")
	}
}

func TestDisconnectBroadcastsUserLeftToPeers(t *testing.T) {
	wsURL := startServer(t)

	c1 := connect(t, wsURL, "room-leave", "alice")
	c2 := connect(t, wsURL, "room-leave", "bob")
	waitFor(t, "c1 to see bob", func() bool { return len(c1.Users()) == 2 })

	c2.Close()
	waitFor(t, "user-left at c1", func() bool { return len(c1.Users()) == 1 })
}

// 一条连接的收尾绝不能影响别人：已经 shutdown 的连接再收到广播
// 只是被丢弃，不能让发起广播的那条连接 panic
func TestBroadcastAfterShutdownIsDropped(t *testing.T) {
	hub := NewHub()
	c := NewConn(nil, hub, nil)
	hub.Join("room-x", c)

	c.shutdown()
	c.shutdown() // 幂等

	hub.Broadcast("room-x", protocol.Envelope{Type: protocol.MsgPong}, nil)
	hub.Leave("room-x", c)
}

// 非法 payload 只换来一条 error 回执，连接不断、后续操作照常
func TestMalformedPayloadGetsErrorNotDisconnect(t *testing.T) {
	wsURL := startServer(t)

	c1 := connect(t, wsURL, "room-bad", "alice")

	var gotErr atomic.Bool
	mallory := client.New(wsURL, nil)
	mallory.OnError = func(code, _ string) {
		if code == "invalid_payload" {
			gotErr.Store(true)
		}
	}
	if err := mallory.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { mallory.Close() })
	if err := mallory.Join("room-bad", "mallory"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, "c1 to see mallory", func() bool { return len(c1.Users()) == 2 })

	mallory.Erase(nil, 2) // 空路径，服务端拒绝

	waitFor(t, "error reply", func() bool { return gotErr.Load() })

	opID := mallory.StartStroke(protocol.Point{X: 1, Y: 1}, "#000000", 2)
	mallory.EndStroke(opID)
	waitFor(t, "stroke still relayed after error", func() bool {
		ops := c1.Mirror()
		return len(ops) == 1 && ops[0].ID == opID
	})
}
