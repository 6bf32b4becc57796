package ws

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"whiteboard/internal/relay"
)

// 全局的 WebSocket upgrader。白板房间本身没有鉴权（设计如此），
// 跨来源直接放行，origin 限制交给部署层。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Manager struct {
	hub *Hub
	svc *relay.Service
}

func NewManager(hub *Hub, svc *relay.Service) *Manager {
	return &Manager{hub: hub, svc: svc}
}

// WebSocketConnect 升级连接并进入读循环（阻塞至连接关闭）。
// 连接断开后补发 user-left 并从 hub 摘掉；注意断开不会关闭
// 该用户遗留的 open 笔画。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.hub, m.svc)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()

	// 读循环阻塞至连接关闭
	wsConn.readLoop()

	// 收尾顺序是硬约束：先从 hub 摘掉，别人不再往这条连接广播，
	// 然后才允许关闭 send。一条连接的退出绝不能影响其他连接。
	room := wsConn.sess.RoomID
	if room != "" {
		m.hub.Leave(room, wsConn)
	}
	out := m.svc.Disconnect(wsConn.sess)
	wsConn.apply(out)
	wsConn.shutdown()
}
