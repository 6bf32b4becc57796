package client

import "whiteboard/protocol"

// Renderer 由上层 UI 实现的绘制回调。协调器只负责算"该画哪一段"，
// 像素怎么落到画布上不归这里管。
type Renderer interface {
	// DrawSegment 画一条笔画的增量线段（from→to）。首点时 from==to。
	DrawSegment(op *protocol.Operation, from, to protocol.Point)
	// DrawOperation 完整画出一条操作（整条路径 / 图形 / 文字 / 图片）
	DrawOperation(op *protocol.Operation)
	// Clear 清空画布
	Clear()
}

// NopRenderer 方便无 UI 场景（测试、采集端）直接丢弃绘制回调
type NopRenderer struct{}

func (NopRenderer) DrawSegment(*protocol.Operation, protocol.Point, protocol.Point) {}
func (NopRenderer) DrawOperation(*protocol.Operation)                               {}
func (NopRenderer) Clear()                                                          {}
