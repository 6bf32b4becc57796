package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"whiteboard/internal/relay"
	"whiteboard/protocol"
)

// Conn 一条 websocket 连接 + 它的会话记录。
// 读循环单线程地处理该连接的消息；写循环消费 send 通道。
type Conn struct {
	ws   *websocket.Conn
	hub  *Hub
	svc  *relay.Service
	sess *relay.Session
	send chan protocol.Envelope

	// 保护 closed 与 send 的关闭。别的房间成员可能正并发 Broadcast
	// 到这条连接，入队和关闭必须互斥，否则往已关闭的通道写会 panic，
	// 把无辜的发送方一起炸掉。
	mu     sync.Mutex
	closed bool
}

func NewConn(ws *websocket.Conn, hub *Hub, svc *relay.Service) *Conn {
	return &Conn{
		ws:   ws,
		hub:  hub,
		svc:  svc,
		sess: relay.NewSession(),
		send: make(chan protocol.Envelope, 32),
	}
}

// Enqueue 非阻塞入队；队列满了直接丢（不存在应用层重传，慢消费者自认倒霉）。
// 连接已关闭时同样直接丢。
func (c *Conn) Enqueue(msg protocol.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// shutdown 关闭 send 通道，让写循环退出。幂等。
// 必须在连接从 hub 摘除之后调用，和 Enqueue 靠 mu 互斥。
func (c *Conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的消息
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}

// apply 执行一次处理产出：回执给自己，广播按范围投递
func (c *Conn) apply(out relay.Outcome) {
	for _, r := range out.Replies {
		c.Enqueue(r)
	}
	for _, ev := range out.Events {
		exclude := c
		if ev.IncludeSender {
			exclude = nil
		}
		c.hub.Broadcast(ev.RoomID, ev.Msg, exclude)
	}
}

// readLoop 阻塞至连接关闭。send 通道不在这里关——
// 收尾顺序（先下 hub 再 shutdown）由 Manager.WebSocketConnect 负责。
func (c *Conn) readLoop() {
	for {
		var env protocol.InboundEnvelope
		if err := c.ws.ReadJSON(&env); err != nil {
			log.Printf("read json error (user=%s, room=%s): %v", c.sess.UserID, c.sess.RoomID, err)
			return
		}
		c.dispatch(env)
	}
}

// dispatch 按事件名二次解码并调用中继引擎。
// 解码失败只回错误事件给本连接，绝不动任何房间状态。
func (c *Conn) dispatch(env protocol.InboundEnvelope) {
	switch env.Type {
	case protocol.MsgJoinRoom:
		var p protocol.JoinRoomPayload
		if !c.decode(env.Data, &p) {
			return
		}
		prevRoom := c.sess.RoomID
		out := c.svc.Join(c.sess, p)
		if c.sess.RoomID != prevRoom {
			if prevRoom != "" {
				c.hub.Leave(prevRoom, c)
			}
			c.hub.Join(c.sess.RoomID, c)
		}
		c.apply(out)

	case protocol.MsgDrawStart:
		var p protocol.DrawStartPayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.DrawStart(c.sess, p))
		}
	case protocol.MsgDrawProgress:
		var p protocol.DrawProgressPayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.DrawProgress(c.sess, p))
		}
	case protocol.MsgDrawEnd:
		var p protocol.DrawEndPayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.DrawEnd(c.sess, p))
		}
	case protocol.MsgErase:
		var p protocol.ErasePayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.Erase(c.sess, p))
		}
	case protocol.MsgShape:
		var p protocol.ShapePayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.Shape(c.sess, p))
		}
	case protocol.MsgText:
		var p protocol.TextPayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.Text(c.sess, p))
		}
	case protocol.MsgImage:
		var p protocol.ImagePayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.Image(c.sess, p))
		}
	case protocol.MsgClearCanvas:
		c.apply(c.svc.Clear(c.sess))
	case protocol.MsgUndo:
		c.apply(c.svc.Undo(c.sess))
	case protocol.MsgCursorMove:
		var p protocol.CursorMovePayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.CursorMove(c.sess, p))
		}
	case protocol.MsgSetName:
		var p protocol.SetNamePayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.SetName(c.sess, p))
		}
	case protocol.MsgPing:
		var p protocol.PingPayload
		if c.decode(env.Data, &p) {
			c.apply(c.svc.Ping(c.sess, p))
		}
	default:
		// 未知类型回一条提示，不断开
		c.Enqueue(protocol.NewErrorEnvelope("unknown_type", "unsupported message type"))
	}
}

func (c *Conn) decode(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		c.Enqueue(protocol.NewErrorEnvelope("invalid_payload", "missing payload"))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.Enqueue(protocol.NewErrorEnvelope("invalid_payload", err.Error()))
		return false
	}
	return true
}
