package board

import (
	"sync"
	"time"

	"whiteboard/protocol"
)

// palette 固定的 10 色用户调色板。按加入顺序轮转分配，
// 超过 10 个并发用户后从头复用，不做冲突规避。
var palette = [...]string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#008080", "#9a6324",
}

// Room 一个房间的聚合状态：操作日志 + 在线用户表。
// 所有变更都在 mu 之内完成，保证同房间的两条消息彼此原子
// （对应事件循环模型里"处理函数跑完才轮到下一条"的语义）。
type Room struct {
	id string

	mu    sync.Mutex
	log   *OperationLog
	users map[string]*protocol.UserInfo
	// userId -> 调色板下标，粘滞绑定；释放不回拨计数器
	colorIndex map[string]int
	nextColor  int
}

func NewRoom(id string) *Room {
	return &Room{
		id:         id,
		log:        NewOperationLog(),
		users:      make(map[string]*protocol.UserInfo),
		colorIndex: make(map[string]int),
	}
}

func (r *Room) ID() string { return r.id }

// AddUser 登记用户并分配粘滞颜色，返回分配结果
func (r *Room) AddUser(userID, name string, now time.Time) protocol.UserInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.colorIndex[userID]
	if !ok {
		idx = r.nextColor % len(palette)
		r.colorIndex[userID] = idx
		r.nextColor++
	}
	u := &protocol.UserInfo{
		ID:       userID,
		Name:     name,
		Color:    palette[idx],
		LastSeen: now,
	}
	r.users[userID] = u
	return *u
}

// RemoveUser 用户断开时摘除在线记录并释放颜色绑定（计数器不回拨）
func (r *Room) RemoveUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	delete(r.colorIndex, userID)
}

// Touch 任何与在线状态相关的消息（包括光标移动）都刷新存活时间
func (r *Room) Touch(userID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.LastSeen = now
	}
}

func (r *Room) SetCursor(userID string, p protocol.Point, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.CursorPosition = &p
		u.LastSeen = now
	}
}

func (r *Room) SetName(userID, name string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.Name = name
		u.LastSeen = now
	}
}

func (r *Room) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

func (r *Room) OperationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Len()
}

// Snapshot 日志 + 在线名单的一次性快照，给新加入的客户端播种镜像
func (r *Room) Snapshot() ([]*protocol.Operation, []protocol.UserInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := r.log.Snapshot()
	users := make([]protocol.UserInfo, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, *u)
	}
	return ops, users
}

// AppendOperation 追加一条已盖章的完整操作
func (r *Room) AppendOperation(op *protocol.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Append(op)
}

// AppendProgress 给 open 操作追加一个点。只有作者本人可以追加；
// id 不存在、已关闭、作者不符都按静默丢弃处理（晚到/乱序包不算错误）。
func (r *Room) AppendProgress(operationID, userID string, p protocol.Point) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	op := r.log.FindOpen(operationID)
	if op == nil || op.UserID != userID {
		return false
	}
	return AppendPoint(op, p)
}

// CloseOperation 关闭作者自己的 open 操作；作者不符时不动
func (r *Room) CloseOperation(operationID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op := r.log.FindOpen(operationID)
	if op == nil || op.UserID != userID {
		return
	}
	op.Open = false
}

// UndoLast 撤销该用户最近一条操作，没有则返回 nil（上层据此决定是否广播）
func (r *Room) UndoLast(userID string) *protocol.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.UndoLast(userID)
}

// Clear 日志坍缩为一条清屏标记并返回它
func (r *Room) Clear(markerID, userID string, now time.Time) *protocol.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	marker := NewClearMarker(markerID, userID, now)
	r.log.Clear(marker)
	return marker
}

// SweepIdle 摘除 lastSeen 超时的用户，返回被摘除的 userId。
// 只动注册表，不发 user-left 广播：清扫是存活判定而不是观察到的断开，
// 其他客户端的在线列表会短暂失真，下一份快照自然纠正。
func (r *Room) SweepIdle(timeout time.Duration, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for id, u := range r.users {
		if now.Sub(u.LastSeen) > timeout {
			delete(r.users, id)
			delete(r.colorIndex, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
