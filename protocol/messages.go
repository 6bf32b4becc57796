package protocol

import (
	"encoding/json"
	"time"
)

// 客户端 → 服务端事件名
const (
	MsgJoinRoom     = "join-room"
	MsgDrawStart    = "draw-start"
	MsgDrawProgress = "draw-progress"
	MsgDrawEnd      = "draw-end"
	MsgErase        = "erase"
	MsgShape        = "shape"
	MsgText         = "text"
	MsgImage        = "image"
	MsgClearCanvas  = "clear-canvas"
	MsgUndo         = "undo"
	MsgCursorMove   = "cursor-move"
	MsgSetName      = "set-name"
	MsgPing         = "ping"
)

// 服务端 → 客户端事件名（转发类事件沿用客户端事件名，这里只列服务端独有的）
const (
	MsgSnapshot   = "snapshot"
	MsgUserJoined = "user-joined"
	MsgUserLeft   = "user-left"
	MsgPong       = "pong"
	MsgError      = "error"
)

// Envelope 出站信封：{type, data}
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// InboundEnvelope 入站信封。Data 先保持原始字节，按 Type 分发后再二次解码，
// 解码失败直接拒绝，不做任何状态变更。
type InboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name,omitempty"`
}

type DrawStartPayload struct {
	OperationID string  `json:"operationId,omitempty"` // 缺省时由服务端补发
	Point       Point   `json:"point"`
	Color       string  `json:"color"`
	LineWidth   float64 `json:"lineWidth"`
}

type DrawProgressPayload struct {
	OperationID string `json:"operationId"`
	Point       Point  `json:"point"`
}

type DrawEndPayload struct {
	OperationID string `json:"operationId"`
	UserID      string `json:"userId,omitempty"` // 转发时带上权威作者
}

type ErasePayload struct {
	Path      []Point `json:"path"`
	LineWidth float64 `json:"lineWidth"`
}

type ShapePayload struct {
	ShapeType  string  `json:"shapeType"` // rectangle / circle
	StartPoint *Point  `json:"startPoint"`
	EndPoint   *Point  `json:"endPoint"`
	Color      string  `json:"color"`
	LineWidth  float64 `json:"lineWidth"`
}

type TextPayload struct {
	Point    *Point  `json:"point"`
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize"`
	Color    string  `json:"color"`
}

type ImagePayload struct {
	Point     *Point  `json:"point"`
	ImageData string  `json:"imageData"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

type CursorMovePayload struct {
	UserID string `json:"userId,omitempty"`
	Point  Point  `json:"point"`
}

type SetNamePayload struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"userName"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type UndoPayload struct {
	OperationID string `json:"operationId"`
	UserID      string `json:"userId"`
}

type ClearPayload struct {
	Operation *Operation `json:"operation"`
	UserID    string     `json:"userId"`
}

// SnapshotPayload 加入房间时整房状态的一次性下发：操作日志 + 在线名单。
// Self 告知新成员服务端分配给它的身份与颜色。
type SnapshotPayload struct {
	RoomID     string       `json:"roomId"`
	Self       UserInfo     `json:"self"`
	Operations []*Operation `json:"operations"`
	Users      []UserInfo   `json:"users"`
}

type UserJoinedPayload struct {
	User UserInfo `json:"user"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const MaxRoomIDLen = 50

// ValidRoomID 房间号限长 50，字符集 [A-Za-z0-9_-]；不合法的一律拒绝而不是纠正
func ValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return true
}

// NewErrorEnvelope 只发给出错的那条连接，不广播
func NewErrorEnvelope(code, message string) Envelope {
	return Envelope{Type: MsgError, Data: ErrorPayload{Code: code, Message: message}}
}

func NewPongEnvelope(ts int64) Envelope {
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return Envelope{Type: MsgPong, Data: PingPayload{Timestamp: ts}}
}
