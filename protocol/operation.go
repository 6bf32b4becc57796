package protocol

import "time"

// 操作类型。白板上的每一次动作（一笔、一个图形、一段文字、一张图片、一次清屏）
// 都会被记录为一条 Operation。
const (
	OpDraw      = "draw"
	OpErase     = "erase"
	OpClear     = "clear"
	OpRectangle = "rectangle"
	OpCircle    = "circle"
	OpText      = "text"
	OpImage     = "image"
)

// 单条操作的资源上限（超出部分静默丢弃，绘制过程绝不能中途硬失败）
const (
	MaxPathPoints = 10000
	MaxLineWidth  = 100
	MinLineWidth  = 1
)

type Point struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Pressure *float64 `json:"pressure,omitempty"`
}

// Operation 白板操作日志中的一条原子记录。
// 字段按类型取用：draw/erase 用 Path（draw 可增量生长）；
// rectangle/circle 用 StartPoint/EndPoint；text 用 Text/FontSize；image 用 ImageData。
type Operation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"` // 服务端盖章，权威时间

	Color     string  `json:"color,omitempty"`
	LineWidth float64 `json:"lineWidth,omitempty"`

	Path []Point `json:"path,omitempty"`

	StartPoint *Point `json:"startPoint,omitempty"`
	EndPoint   *Point `json:"endPoint,omitempty"`

	Text     string  `json:"text,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`

	ImageData string  `json:"imageData,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`

	// draw 类操作收到 draw-end 前为 true，期间允许作者继续追加 Path
	Open bool `json:"open,omitempty"`
}

// UserInfo 房间内某个用户的在线信息（与操作日志相互独立）。
type UserInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Color          string    `json:"color"`
	CursorPosition *Point    `json:"cursorPosition,omitempty"`
	LastSeen       time.Time `json:"-"`
}

// ClampPoint 坐标统一钳制到非负，入库和转发前都要做
func ClampPoint(p Point) Point {
	if p.X < 0 {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = 0
	}
	return p
}

// ClampLineWidth 线宽钳制到 [1,100]
func ClampLineWidth(w float64) float64 {
	if w < MinLineWidth {
		return MinLineWidth
	}
	if w > MaxLineWidth {
		return MaxLineWidth
	}
	return w
}
