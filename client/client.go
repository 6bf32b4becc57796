package client

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"whiteboard/protocol"
)

// DefaultReconnectDelay 断线后固定延迟重连。注意重连只是恢复连接，
// 不会自动重新 join——应用必须自己再发一次 Join 拿新的 Snapshot，
// 这是唯一的追平手段。
const DefaultReconnectDelay = 3 * time.Second

// Client 白板客户端：一条持久 websocket 连接 + 本地对账器。
// 所有出站消息 fire-and-forget，没有应用层确认或重传。
type Client struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	rec  *Reconciler

	users map[string]protocol.UserInfo

	reconnectDelay time.Duration
	closed         bool

	// 连接生命周期回调，可选
	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(code, message string)
}

func New(url string, renderer Renderer) *Client {
	return &Client{
		url:            url,
		dialer:         websocket.DefaultDialer,
		rec:            NewReconciler(renderer),
		users:          make(map[string]protocol.UserInfo),
		reconnectDelay: DefaultReconnectDelay,
	}
}

// SetReconnectDelay 测试或特殊部署时调整重连间隔
func (c *Client) SetReconnectDelay(d time.Duration) { c.reconnectDelay = d }

// Connect 建立连接并启动读循环
func (c *Client) Connect() error {
	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	go c.readLoop(conn)
	if c.OnConnect != nil {
		c.OnConnect()
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Reconciler 暴露对账器本体。读循环持锁改它，
// 并发轮询镜像请用 Mirror。
func (c *Client) Reconciler() *Reconciler { return c.rec }

// Mirror 当前镜像的深拷贝（渲染顺序），并发安全
func (c *Client) Mirror() []protocol.Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := c.rec.Operations()
	out := make([]protocol.Operation, 0, len(ops))
	for _, op := range ops {
		cp := *op
		cp.Path = append([]protocol.Point(nil), op.Path...)
		out = append(out, cp)
	}
	return out
}

func (c *Client) Users() []protocol.UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.UserInfo, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	return out
}

// ---- 出站 ----

func (c *Client) send(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	// 发出去就不管了：失败只记日志，恢复靠重连 + 重新 join
	if err := c.conn.WriteJSON(protocol.Envelope{Type: msgType, Data: data}); err != nil {
		log.Printf("send %s failed: %v", msgType, err)
		return err
	}
	return nil
}

// Join 加入（或切换）房间。服务端会回整房 Snapshot。
func (c *Client) Join(roomID, name string) error {
	return c.send(protocol.MsgJoinRoom, protocol.JoinRoomPayload{RoomID: roomID, Name: name})
}

// StartStroke 本端起笔：先画先发，返回 operationId 供后续进度使用
func (c *Client) StartStroke(p protocol.Point, color string, lineWidth float64) string {
	id := uuid.NewString()
	op := &protocol.Operation{
		ID:        id,
		UserID:    c.rec.SelfID(),
		Type:      protocol.OpDraw,
		Timestamp: time.Now(),
		Color:     color,
		LineWidth: protocol.ClampLineWidth(lineWidth),
		Path:      []protocol.Point{protocol.ClampPoint(p)},
		Open:      true,
	}
	c.mu.Lock()
	c.rec.LocalStart(op)
	c.mu.Unlock()
	_ = c.send(protocol.MsgDrawStart, protocol.DrawStartPayload{
		OperationID: id, Point: p, Color: color, LineWidth: lineWidth,
	})
	return id
}

func (c *Client) AddPoint(operationID string, p protocol.Point) {
	c.mu.Lock()
	c.rec.LocalProgress(operationID, protocol.ClampPoint(p))
	c.mu.Unlock()
	_ = c.send(protocol.MsgDrawProgress, protocol.DrawProgressPayload{OperationID: operationID, Point: p})
}

func (c *Client) EndStroke(operationID string) {
	c.mu.Lock()
	c.rec.LocalEnd(operationID)
	c.mu.Unlock()
	_ = c.send(protocol.MsgDrawEnd, protocol.DrawEndPayload{OperationID: operationID})
}

func (c *Client) Erase(path []protocol.Point, lineWidth float64) {
	op := &protocol.Operation{
		ID:        uuid.NewString(),
		UserID:    c.rec.SelfID(),
		Type:      protocol.OpErase,
		Timestamp: time.Now(),
		LineWidth: protocol.ClampLineWidth(lineWidth),
		Path:      path,
	}
	c.mu.Lock()
	c.rec.LocalOperation(op)
	c.mu.Unlock()
	_ = c.send(protocol.MsgErase, protocol.ErasePayload{Path: path, LineWidth: lineWidth})
}

func (c *Client) DrawShape(shapeType string, start, end protocol.Point, color string, lineWidth float64) {
	op := &protocol.Operation{
		ID:         uuid.NewString(),
		UserID:     c.rec.SelfID(),
		Type:       shapeType,
		Timestamp:  time.Now(),
		Color:      color,
		LineWidth:  protocol.ClampLineWidth(lineWidth),
		StartPoint: &start,
		EndPoint:   &end,
	}
	c.mu.Lock()
	c.rec.LocalOperation(op)
	c.mu.Unlock()
	_ = c.send(protocol.MsgShape, protocol.ShapePayload{
		ShapeType: shapeType, StartPoint: &start, EndPoint: &end, Color: color, LineWidth: lineWidth,
	})
}

func (c *Client) AddText(p protocol.Point, text string, fontSize float64, color string) {
	op := &protocol.Operation{
		ID:         uuid.NewString(),
		UserID:     c.rec.SelfID(),
		Type:       protocol.OpText,
		Timestamp:  time.Now(),
		Color:      color,
		Text:       text,
		FontSize:   fontSize,
		StartPoint: &p,
	}
	c.mu.Lock()
	c.rec.LocalOperation(op)
	c.mu.Unlock()
	_ = c.send(protocol.MsgText, protocol.TextPayload{Point: &p, Text: text, FontSize: fontSize, Color: color})
}

func (c *Client) AddImage(p protocol.Point, imageData string, width, height float64) {
	op := &protocol.Operation{
		ID:         uuid.NewString(),
		UserID:     c.rec.SelfID(),
		Type:       protocol.OpImage,
		Timestamp:  time.Now(),
		ImageData:  imageData,
		Width:      width,
		Height:     height,
		StartPoint: &p,
	}
	c.mu.Lock()
	c.rec.LocalOperation(op)
	c.mu.Unlock()
	_ = c.send(protocol.MsgImage, protocol.ImagePayload{Point: &p, ImageData: imageData, Width: width, Height: height})
}

// ClearCanvas 请求清屏。本地不先清：clear 广播包含发送者，
// 等服务端的回包一起清，保证所有端看到同一条清屏标记。
func (c *Client) ClearCanvas() {
	_ = c.send(protocol.MsgClearCanvas, struct{}{})
}

// Undo 本地撤销并通知服务端；没有可撤销的什么都不发
func (c *Client) Undo() {
	c.mu.Lock()
	op := c.rec.Undo()
	c.mu.Unlock()
	if op == nil {
		return
	}
	_ = c.send(protocol.MsgUndo, struct{}{})
}

// Redo 只在本地重做那一条，服务端日志不恢复被撤销的记录
func (c *Client) Redo() {
	c.mu.Lock()
	c.rec.Redo()
	c.mu.Unlock()
}

func (c *Client) MoveCursor(p protocol.Point) {
	_ = c.send(protocol.MsgCursorMove, protocol.CursorMovePayload{Point: p})
}

func (c *Client) SetName(name string) {
	_ = c.send(protocol.MsgSetName, protocol.SetNamePayload{Name: name})
}

func (c *Client) Ping() {
	_ = c.send(protocol.MsgPing, protocol.PingPayload{Timestamp: time.Now().UnixMilli()})
}

// ---- 入站 ----

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env protocol.InboundEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if c.OnDisconnect != nil {
				c.OnDisconnect(err)
			}
			if !closed {
				c.reconnect()
			}
			return
		}
		c.handle(env)
	}
}

// reconnect 固定延迟重拨直到成功。恢复后不自动 join。
func (c *Client) reconnect() {
	for {
		time.Sleep(c.reconnectDelay)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if err := c.Connect(); err == nil {
			return
		} else {
			log.Printf("reconnect failed: %v", err)
		}
	}
}

func (c *Client) handle(env protocol.InboundEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Type {
	case protocol.MsgSnapshot:
		var p protocol.SnapshotPayload
		if json.Unmarshal(env.Data, &p) != nil {
			return
		}
		c.rec.ApplySnapshot(p)
		c.users = make(map[string]protocol.UserInfo, len(p.Users))
		for _, u := range p.Users {
			c.users[u.ID] = u
		}

	case protocol.MsgDrawStart:
		var op protocol.Operation
		if json.Unmarshal(env.Data, &op) == nil {
			c.rec.ApplyRemoteStart(&op)
		}
	case protocol.MsgDrawProgress:
		var p protocol.DrawProgressPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.rec.ApplyRemoteProgress(p.OperationID, p.Point)
		}
	case protocol.MsgDrawEnd:
		var p protocol.DrawEndPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.rec.ApplyRemoteEnd(p.OperationID)
		}
	case protocol.MsgErase, protocol.MsgShape, protocol.MsgText, protocol.MsgImage:
		var op protocol.Operation
		if json.Unmarshal(env.Data, &op) == nil {
			c.rec.ApplyRemoteOperation(&op)
		}
	case protocol.MsgClearCanvas:
		var p protocol.ClearPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.rec.ApplyRemoteClear(p.Operation)
		}
	case protocol.MsgUndo:
		var p protocol.UndoPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.rec.ApplyRemoteUndo(p.OperationID)
		}

	case protocol.MsgUserJoined:
		var p protocol.UserJoinedPayload
		if json.Unmarshal(env.Data, &p) == nil {
			c.users[p.User.ID] = p.User
		}
	case protocol.MsgUserLeft:
		var p protocol.UserLeftPayload
		if json.Unmarshal(env.Data, &p) == nil {
			delete(c.users, p.UserID)
		}
	case protocol.MsgCursorMove:
		var p protocol.CursorMovePayload
		if json.Unmarshal(env.Data, &p) == nil {
			if u, ok := c.users[p.UserID]; ok {
				pt := p.Point
				u.CursorPosition = &pt
				c.users[p.UserID] = u
			}
		}
	case protocol.MsgSetName:
		var p protocol.SetNamePayload
		if json.Unmarshal(env.Data, &p) == nil {
			if u, ok := c.users[p.UserID]; ok {
				u.Name = p.Name
				c.users[p.UserID] = u
			}
		}

	case protocol.MsgError:
		var p protocol.ErrorPayload
		if json.Unmarshal(env.Data, &p) == nil {
			log.Printf("server error: %s %s", p.Code, p.Message)
			if c.OnError != nil {
				c.OnError(p.Code, p.Message)
			}
		}
	case protocol.MsgPong:
		// 心跳回包，忽略
	}
}
