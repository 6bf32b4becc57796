package cache

import "fmt"

// 键语义：
// - roomKey(roomID):          房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - namesKey(roomID):         房间内 userId→name 映射（Hash）
// - cursorKey(roomID,userID): 成员光标 JSON（String，带 TTL）

const (
	keyRoomFmt   = "presence:room:{roomID:%s}"       // ZSet<userId, expireAtUnix>
	keyNamesFmt  = "presence:room:names:{roomID:%s}" // Hash<userId -> name>
	keyCursorFmt = "presence:cursor:{roomID:%s}:%s"  // String JSON with TTL
)

func roomKey(roomID string) string           { return fmt.Sprintf(keyRoomFmt, roomID) }
func namesKey(roomID string) string          { return fmt.Sprintf(keyNamesFmt, roomID) }
func cursorKey(roomID, userID string) string { return fmt.Sprintf(keyCursorFmt, roomID, userID) }
