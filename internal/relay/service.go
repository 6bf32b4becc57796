package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"whiteboard/internal/board"
	"whiteboard/internal/cache"
	"whiteboard/internal/firehose"
	"whiteboard/protocol"
)

// Session 每条连接的会话记录：当前房间、显示名、稳定 id、分配到的颜色。
// 显式传给每个处理函数，不放任何包级单例。
type Session struct {
	UserID string
	Name   string
	Color  string
	RoomID string
}

func NewSession() *Session {
	return &Session{UserID: uuid.NewString()}
}

// Event 一条待广播的消息以及它的投放范围。
// 笔画/在线类事件不发回发送者（它本地已经画过了）；
// clear 和 undo 发回发送者（发送者也要丢弃这部分状态）。
type Event struct {
	RoomID        string
	Msg           protocol.Envelope
	IncludeSender bool
}

// Outcome 处理一条入站消息的全部产出。
// Replies 只回给发送者本人；Events 按范围广播。两者都可为空。
type Outcome struct {
	Replies []protocol.Envelope
	Events  []Event
}

func (o *Outcome) reply(e protocol.Envelope) {
	o.Replies = append(o.Replies, e)
}

func (o *Outcome) broadcast(roomID string, e protocol.Envelope, includeSender bool) {
	o.Events = append(o.Events, Event{RoomID: roomID, Msg: e, IncludeSender: includeSender})
}

// Service 服务端中继引擎：校验、盖章、改日志/注册表、决定投放范围。
// 不碰 websocket，socket 层拿着 Outcome 去执行投递，方便单测。
type Service struct {
	registry *board.Registry
	presence cache.PresenceCache
	fire     *firehose.Dispatcher

	presenceTTL time.Duration
	now         func() time.Time
}

func NewService(registry *board.Registry, presence cache.PresenceCache, fire *firehose.Dispatcher, presenceTTL time.Duration) *Service {
	return &Service{
		registry:    registry,
		presence:    presence,
		fire:        fire,
		presenceTTL: presenceTTL,
		now:         time.Now,
	}
}

func (s *Service) Registry() *board.Registry { return s.registry }

// room 取会话所在房间；没加入任何房间时返回 nil，
// 调用方按静默丢弃处理（改动类消息在入房前一律无效）
func (s *Service) room(sess *Session) *board.Room {
	if sess.RoomID == "" {
		return nil
	}
	return s.registry.Lookup(sess.RoomID)
}

// Join 处理 join-room。房间号不合法时只回错误，不创建也不加入。
// 换房时旧房间收 user-left，新房间的其他人收 user-joined，
// 发送者本人拿到整房 Snapshot。
func (s *Service) Join(sess *Session, p protocol.JoinRoomPayload) Outcome {
	var out Outcome
	if !protocol.ValidRoomID(p.RoomID) {
		out.reply(protocol.NewErrorEnvelope("invalid_room", "room id must be 1-50 chars of [A-Za-z0-9_-]"))
		return out
	}

	now := s.now()
	if sess.RoomID != "" {
		if old := s.registry.Lookup(sess.RoomID); old != nil {
			old.RemoveUser(sess.UserID)
			_ = s.presence.RemoveMember(context.Background(), sess.RoomID, sess.UserID)
			out.broadcast(sess.RoomID, protocol.Envelope{
				Type: protocol.MsgUserLeft,
				Data: protocol.UserLeftPayload{UserID: sess.UserID},
			}, false)
		}
	}

	name := p.Name
	if name == "" {
		name = "Guest"
	}
	room := s.registry.EnsureRoom(p.RoomID)
	self := room.AddUser(sess.UserID, name, now)
	sess.RoomID = p.RoomID
	sess.Name = name
	sess.Color = self.Color

	_ = s.presence.Heartbeat(context.Background(), p.RoomID, sess.UserID, name, s.presenceTTL)

	ops, users := room.Snapshot()
	out.reply(protocol.Envelope{
		Type: protocol.MsgSnapshot,
		Data: protocol.SnapshotPayload{
			RoomID:     p.RoomID,
			Self:       self,
			Operations: ops,
			Users:      users,
		},
	})
	out.broadcast(p.RoomID, protocol.Envelope{
		Type: protocol.MsgUserJoined,
		Data: protocol.UserJoinedPayload{User: self},
	}, false)
	return out
}

// DrawStart 开启一条增量构建的笔画操作。
// 线宽钳制 [1,100]，坐标钳制非负；operationId 缺省时服务端补一个。
func (s *Service) DrawStart(sess *Session, p protocol.DrawStartPayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	id := p.OperationID
	if id == "" {
		id = uuid.NewString()
	}
	op := &protocol.Operation{
		ID:        id,
		UserID:    sess.UserID,
		Type:      protocol.OpDraw,
		Timestamp: s.now(),
		Color:     p.Color,
		LineWidth: protocol.ClampLineWidth(p.LineWidth),
		Path:      []protocol.Point{protocol.ClampPoint(p.Point)},
		Open:      true,
	}
	room.AppendOperation(op)
	room.Touch(sess.UserID, s.now())
	out.broadcast(sess.RoomID, protocol.Envelope{Type: protocol.MsgDrawStart, Data: op}, false)
	return out
}

// DrawProgress 只转发点增量。操作不存在、已关闭或作者不符都静默丢弃
// （晚到/乱序的包不值得当成错误吵醒客户端）。
func (s *Service) DrawProgress(sess *Session, p protocol.DrawProgressPayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	if !room.AppendProgress(p.OperationID, sess.UserID, p.Point) {
		return out
	}
	room.Touch(sess.UserID, s.now())
	out.broadcast(sess.RoomID, protocol.Envelope{
		Type: protocol.MsgDrawProgress,
		Data: protocol.DrawProgressPayload{OperationID: p.OperationID, Point: protocol.ClampPoint(p.Point)},
	}, false)
	return out
}

// DrawEnd 关闭操作（此后作者的追加不再被接受），转发时带上权威作者 id
func (s *Service) DrawEnd(sess *Session, p protocol.DrawEndPayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	room.CloseOperation(p.OperationID, sess.UserID)
	room.Touch(sess.UserID, s.now())
	out.broadcast(sess.RoomID, protocol.Envelope{
		Type: protocol.MsgDrawEnd,
		Data: protocol.DrawEndPayload{OperationID: p.OperationID, UserID: sess.UserID},
	}, false)
	s.fire.Publish(firehose.BoardOpEvent{
		EventType:   firehose.EventOpApplied,
		RoomID:      sess.RoomID,
		OperationID: p.OperationID,
		UserID:      sess.UserID,
		OpType:      protocol.OpDraw,
		AppliedAt:   s.now(),
	})
	return out
}

// Erase 一次性送达完整擦除路径
func (s *Service) Erase(sess *Session, p protocol.ErasePayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	if len(p.Path) == 0 {
		out.reply(protocol.NewErrorEnvelope("invalid_payload", "erase requires a non-empty path"))
		return out
	}
	path := make([]protocol.Point, 0, len(p.Path))
	for _, pt := range p.Path {
		if len(path) >= protocol.MaxPathPoints {
			break
		}
		path = append(path, protocol.ClampPoint(pt))
	}
	op := &protocol.Operation{
		ID:        uuid.NewString(),
		UserID:    sess.UserID,
		Type:      protocol.OpErase,
		Timestamp: s.now(),
		LineWidth: protocol.ClampLineWidth(p.LineWidth),
		Path:      path,
	}
	return s.applySingleShot(sess, room, op)
}

// Shape 矩形/圆，单次完整记录
func (s *Service) Shape(sess *Session, p protocol.ShapePayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	if (p.ShapeType != protocol.OpRectangle && p.ShapeType != protocol.OpCircle) ||
		p.StartPoint == nil || p.EndPoint == nil {
		out.reply(protocol.NewErrorEnvelope("invalid_payload", "shape requires shapeType rectangle|circle and both points"))
		return out
	}
	start := protocol.ClampPoint(*p.StartPoint)
	end := protocol.ClampPoint(*p.EndPoint)
	op := &protocol.Operation{
		ID:         uuid.NewString(),
		UserID:     sess.UserID,
		Type:       p.ShapeType,
		Timestamp:  s.now(),
		Color:      p.Color,
		LineWidth:  protocol.ClampLineWidth(p.LineWidth),
		StartPoint: &start,
		EndPoint:   &end,
	}
	return s.applySingleShot(sess, room, op)
}

func (s *Service) Text(sess *Session, p protocol.TextPayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	if p.Text == "" || p.Point == nil {
		out.reply(protocol.NewErrorEnvelope("invalid_payload", "text requires text and point"))
		return out
	}
	pt := protocol.ClampPoint(*p.Point)
	op := &protocol.Operation{
		ID:         uuid.NewString(),
		UserID:     sess.UserID,
		Type:       protocol.OpText,
		Timestamp:  s.now(),
		Color:      p.Color,
		Text:       p.Text,
		FontSize:   p.FontSize,
		StartPoint: &pt,
	}
	return s.applySingleShot(sess, room, op)
}

func (s *Service) Image(sess *Session, p protocol.ImagePayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	if p.ImageData == "" || p.Point == nil {
		out.reply(protocol.NewErrorEnvelope("invalid_payload", "image requires imageData and point"))
		return out
	}
	pt := protocol.ClampPoint(*p.Point)
	op := &protocol.Operation{
		ID:         uuid.NewString(),
		UserID:     sess.UserID,
		Type:       protocol.OpImage,
		Timestamp:  s.now(),
		ImageData:  p.ImageData,
		Width:      p.Width,
		Height:     p.Height,
		StartPoint: &pt,
	}
	return s.applySingleShot(sess, room, op)
}

// applySingleShot 单次完整操作共用的落日志 + 转发 + 出流
func (s *Service) applySingleShot(sess *Session, room *board.Room, op *protocol.Operation) Outcome {
	var out Outcome
	room.AppendOperation(op)
	room.Touch(sess.UserID, s.now())
	out.broadcast(sess.RoomID, protocol.Envelope{Type: msgTypeFor(op.Type), Data: op}, false)
	s.fire.Publish(firehose.BoardOpEvent{
		EventType:   firehose.EventOpApplied,
		RoomID:      sess.RoomID,
		OperationID: op.ID,
		UserID:      sess.UserID,
		OpType:      op.Type,
		Operation:   op,
		AppliedAt:   s.now(),
	})
	return out
}

func msgTypeFor(opType string) string {
	switch opType {
	case protocol.OpErase:
		return protocol.MsgErase
	case protocol.OpRectangle, protocol.OpCircle:
		return protocol.MsgShape
	case protocol.OpText:
		return protocol.MsgText
	case protocol.OpImage:
		return protocol.MsgImage
	default:
		return opType
	}
}

// Clear 整房日志坍缩为一条清屏标记，广播给包括发送者在内的所有人
func (s *Service) Clear(sess *Session) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	marker := room.Clear(uuid.NewString(), sess.UserID, s.now())
	room.Touch(sess.UserID, s.now())
	out.broadcast(sess.RoomID, protocol.Envelope{
		Type: protocol.MsgClearCanvas,
		Data: protocol.ClearPayload{Operation: marker, UserID: sess.UserID},
	}, true)
	s.fire.Publish(firehose.BoardOpEvent{
		EventType:   firehose.EventCanvasCleared,
		RoomID:      sess.RoomID,
		OperationID: marker.ID,
		UserID:      sess.UserID,
		AppliedAt:   s.now(),
	})
	return out
}

// Undo 撤销发送者自己最近的一条操作。没有可撤销的就什么都不发。
func (s *Service) Undo(sess *Session) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	removed := room.UndoLast(sess.UserID)
	if removed == nil {
		return out
	}
	room.Touch(sess.UserID, s.now())
	out.broadcast(sess.RoomID, protocol.Envelope{
		Type: protocol.MsgUndo,
		Data: protocol.UndoPayload{OperationID: removed.ID, UserID: sess.UserID},
	}, true)
	s.fire.Publish(firehose.BoardOpEvent{
		EventType:   firehose.EventOpUndone,
		RoomID:      sess.RoomID,
		OperationID: removed.ID,
		UserID:      sess.UserID,
		OpType:      removed.Type,
		AppliedAt:   s.now(),
	})
	return out
}

// CursorMove 纯在线状态：刷新存活、更新光标、转发给其他人，从不进日志
func (s *Service) CursorMove(sess *Session, p protocol.CursorMovePayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	pt := protocol.ClampPoint(p.Point)
	room.SetCursor(sess.UserID, pt, s.now())
	if b, err := json.Marshal(pt); err == nil {
		_ = s.presence.SetCursor(context.Background(), sess.RoomID, sess.UserID, b, s.presenceTTL)
	}
	_ = s.presence.Heartbeat(context.Background(), sess.RoomID, sess.UserID, sess.Name, s.presenceTTL)
	out.broadcast(sess.RoomID, protocol.Envelope{
		Type: protocol.MsgCursorMove,
		Data: protocol.CursorMovePayload{UserID: sess.UserID, Point: pt},
	}, false)
	return out
}

func (s *Service) SetName(sess *Session, p protocol.SetNamePayload) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	sess.Name = p.Name
	room.SetName(sess.UserID, p.Name, s.now())
	_ = s.presence.Heartbeat(context.Background(), sess.RoomID, sess.UserID, p.Name, s.presenceTTL)
	out.broadcast(sess.RoomID, protocol.Envelope{
		Type: protocol.MsgSetName,
		Data: protocol.SetNamePayload{UserID: sess.UserID, Name: p.Name},
	}, false)
	return out
}

func (s *Service) Ping(_ *Session, p protocol.PingPayload) Outcome {
	var out Outcome
	out.reply(protocol.NewPongEnvelope(p.Timestamp))
	return out
}

// Disconnect 连接关闭：摘在线记录并向房间其余人发 user-left。
// 注意断开不会关闭发送者遗留的 open 操作，它就留在日志里，
// 后续快照照常带出去。
func (s *Service) Disconnect(sess *Session) Outcome {
	var out Outcome
	room := s.room(sess)
	if room == nil {
		return out
	}
	room.RemoveUser(sess.UserID)
	_ = s.presence.RemoveMember(context.Background(), sess.RoomID, sess.UserID)
	out.broadcast(sess.RoomID, protocol.Envelope{
		Type: protocol.MsgUserLeft,
		Data: protocol.UserLeftPayload{UserID: sess.UserID},
	}, false)
	sess.RoomID = ""
	return out
}
