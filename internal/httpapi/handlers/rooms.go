package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"whiteboard/internal/board"
)

type RoomSummary struct {
	ID             string `json:"id"`
	UserCount      int    `json:"userCount"`
	OperationCount int    `json:"operationCount"`
}

// ListRooms 房间列表：只读注册表，没有任何同步逻辑
func ListRooms(registry *board.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms := registry.Rooms()
		out := make([]RoomSummary, 0, len(rooms))
		for _, r := range rooms {
			out = append(out, RoomSummary{
				ID:             r.ID(),
				UserCount:      r.UserCount(),
				OperationCount: r.OperationCount(),
			})
		}
		c.JSON(http.StatusOK, gin.H{"rooms": out})
	}
}

// GetRoom 单个房间概况；不存在返回 404（不会顺手创建）
func GetRoom(registry *board.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := registry.Lookup(c.Param("roomId"))
		if room == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, RoomSummary{
			ID:             room.ID(),
			UserCount:      room.UserCount(),
			OperationCount: room.OperationCount(),
		})
	}
}
