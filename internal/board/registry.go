package board

import (
	"log"
	"sync"
	"time"
)

// Registry 房间注册表。房间首次被引用时惰性创建，之后随进程存活，
// 没有删除路径：空房间保留日志，可以随时重进；单房日志有上限，内存可控。
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// EnsureRoom 取出或创建房间
func (g *Registry) EnsureRoom(id string) *Room {
	g.mu.RLock()
	r := g.rooms[id]
	g.mu.RUnlock()
	if r != nil {
		return r
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r = g.rooms[id]; r == nil {
		r = NewRoom(id)
		g.rooms[id] = r
	}
	return r
}

// Lookup 只查不建
func (g *Registry) Lookup(id string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[id]
}

// Rooms 当前全部房间（REST 列表用）
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	return out
}

// Sweeper 在线状态清扫器：固定周期把 lastSeen 超时的用户从注册表摘掉。
// 只清注册表、不发广播（语义见 Room.SweepIdle 的注释）。
type Sweeper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(registry *Registry, interval, timeout time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.loop()
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.sweepOnce(now)
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweepOnce(now time.Time) {
	for _, room := range s.registry.Rooms() {
		if evicted := room.SweepIdle(s.timeout, now); len(evicted) > 0 {
			log.Printf("presence sweep: room=%s evicted=%v", room.ID(), evicted)
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}
