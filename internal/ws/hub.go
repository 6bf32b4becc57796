package ws

import (
	"sync"

	"whiteboard/protocol"
)

// Hub 连接归属表：roomID -> 该房间的连接集合。
// 为什么房间里存的是 map[*Conn]，而不是 map[userID]：
// 广播要逐连接发；按连接组织也天然支持同一用户多标签页。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定房间
func (h *Hub) Join(roomID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Conn]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
}

// Leave 将连接从指定房间移除
func (h *Hub) Leave(roomID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[roomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast 把消息投给房间内所有连接；exclude 非空时跳过它
// （笔画类事件不发回发送者，clear/undo 时传 nil 全发）。
func (h *Hub) Broadcast(roomID string, msg protocol.Envelope, exclude *Conn) {
	// 锁内先拷一份名单再投递：边遍历边有人 Leave 会撞上 map 并发读写
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c != exclude {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Enqueue(msg)
	}
}
