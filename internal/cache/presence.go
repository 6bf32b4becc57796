package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 在线状态镜像。权威的在线表始终在各房间的内存注册表里，
// 这里只是把"谁还活着 + 光标在哪"暴露出去（比如给别的进程/运维读）。
// 默认用内存实现；配置开启 redis 后换成共享实现。
type PresenceCache interface {
	Heartbeat(ctx context.Context, roomID, userID, name string, ttl time.Duration) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	GetRooms(ctx context.Context) ([]string, error)
	GetAliveMembersWithNames(ctx context.Context, roomID string) ([]PresenceMember, error)
	SetCursor(ctx context.Context, roomID, userID string, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, roomID, userID string) ([]byte, error)
}

type PresenceMember struct {
	UserID string
	Name   string
}

// ---- redis 实现 ----

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

func (p *redisPresence) Heartbeat(ctx context.Context, roomID, userID, name string, ttl time.Duration) error {
	// 刷新 TTL 也直接再调一次 Heartbeat 即可
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），用于表达"逻辑 TTL"
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(roomID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, namesKey(roomID), userID, name)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, roomID, userID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(roomID), userID)
	tx.HDel(ctx, namesKey(roomID), userID)
	tx.Del(ctx, cursorKey(roomID, userID))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) GetRooms(ctx context.Context) ([]string, error) {
	var rooms []string
	iter := p.rdb.Scan(ctx, 0, "presence:room:*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		// 注意：namesKey 也以 presence:room: 开头，需要过滤掉
		if strings.Contains(k, ":names:") {
			continue
		}
		roomID := strings.TrimPrefix(k, "presence:room:")
		roomID = strings.TrimPrefix(strings.TrimSuffix(roomID, "}"), "{roomID:")
		if roomID != "" {
			rooms = append(rooms, roomID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (p *redisPresence) SetCursor(ctx context.Context, roomID, userID string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(roomID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, roomID, userID string) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(roomID, userID)).Bytes()
}

func (p *redisPresence) GetAliveMembersWithNames(ctx context.Context, roomID string) ([]PresenceMember, error) {
	// step1: 清理过期成员。约定 score=expireAt（Unix 秒），expireAt <= now 视为过期
	now := time.Now().Unix()
	luaScript := `
	-- KEYS[1] = roomKey(roomID)
	-- KEYS[2] = namesKey(roomID)
	-- ARGV[1] = now (unix seconds)

	local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	if #expired > 0 then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
		redis.call("HDEL", KEYS[2], unpack(expired))
	end
	return #expired
	`
	script := redis.NewScript(luaScript)
	if _, err := script.Run(ctx, p.rdb, []string{roomKey(roomID), namesKey(roomID)}, now).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量获取名字
	names, err := p.rdb.HMGet(ctx, namesKey(roomID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, v := range names {
		name := ""
		if v != nil {
			name, _ = v.(string)
		}
		members = append(members, PresenceMember{UserID: aliveIDs[i], Name: name})
	}
	return members, nil
}

// ---- 内存实现（默认）----

type memoryEntry struct {
	name     string
	expireAt time.Time
}

type memoryPresence struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]memoryEntry // roomID -> userID -> entry
	cursors map[string][]byte                 // roomID:userID -> cursor JSON
}

func NewMemoryPresence() PresenceCache {
	return &memoryPresence{
		rooms:   make(map[string]map[string]memoryEntry),
		cursors: make(map[string][]byte),
	}
}

func (p *memoryPresence) Heartbeat(_ context.Context, roomID, userID, name string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[roomID] == nil {
		p.rooms[roomID] = make(map[string]memoryEntry)
	}
	p.rooms[roomID][userID] = memoryEntry{name: name, expireAt: time.Now().Add(ttl)}
	return nil
}

func (p *memoryPresence) RemoveMember(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.rooms[roomID]; ok {
		delete(m, userID)
	}
	delete(p.cursors, roomID+":"+userID)
	return nil
}

func (p *memoryPresence) GetRooms(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rooms := make([]string, 0, len(p.rooms))
	for id := range p.rooms {
		rooms = append(rooms, id)
	}
	return rooms, nil
}

func (p *memoryPresence) GetAliveMembersWithNames(_ context.Context, roomID string) ([]PresenceMember, error) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.rooms[roomID]
	if len(m) == 0 {
		return nil, nil
	}
	var members []PresenceMember
	for id, e := range m {
		if e.expireAt.Before(now) {
			delete(m, id)
			continue
		}
		members = append(members, PresenceMember{UserID: id, Name: e.name})
	}
	return members, nil
}

func (p *memoryPresence) SetCursor(_ context.Context, roomID, userID string, jsonData []byte, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[roomID+":"+userID] = jsonData
	return nil
}

func (p *memoryPresence) GetCursor(_ context.Context, roomID, userID string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursors[roomID+":"+userID], nil
}
