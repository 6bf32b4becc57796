package client

import (
	"whiteboard/protocol"
)

// Reconciler 客户端对账器：服务端日志的本地镜像 + 独立的撤销/重做栈。
// 本端的编辑先画先发（乐观渲染，不等服务器），远端增量按段合并。
//
// 镜像只是尽力而为：协议没有确认和重传，丢包时允许和服务端日志发散，
// 重新 join 拿一份新 Snapshot 是唯一的追平手段。
type Reconciler struct {
	renderer Renderer

	selfID string

	ops   []*protocol.Operation
	index map[string]*protocol.Operation
	// opID -> 已经渲染到的路径长度。增量合并的关键：
	// 收到进度只画新的一段；收到比已知更长的整条（比如 Snapshot 里
	// 还在画的笔画）只补画未覆盖的后缀，避免重画重影。
	rendered map[string]int

	done   []*protocol.Operation // 本端已完成、可撤销
	undone []*protocol.Operation
}

func NewReconciler(r Renderer) *Reconciler {
	if r == nil {
		r = NopRenderer{}
	}
	return &Reconciler{
		renderer: r,
		index:    make(map[string]*protocol.Operation),
		rendered: make(map[string]int),
	}
}

func (rc *Reconciler) SelfID() string { return rc.selfID }

// Operations 当前镜像（渲染顺序）
func (rc *Reconciler) Operations() []*protocol.Operation {
	out := make([]*protocol.Operation, len(rc.ops))
	copy(out, rc.ops)
	return out
}

// ---- 远端事件 ----

// ApplySnapshot 用整房快照播种/追平镜像。按 id 去重：
// 同一份快照应用两次不会产生重复操作，已知的操作只补画长出来的部分。
func (rc *Reconciler) ApplySnapshot(p protocol.SnapshotPayload) {
	rc.selfID = p.Self.ID
	for _, op := range p.Operations {
		rc.upsert(op)
	}
}

// ApplyRemoteStart 别人的笔画开始（Remote-Streaming 状态入口）
func (rc *Reconciler) ApplyRemoteStart(op *protocol.Operation) {
	rc.upsert(op)
}

// ApplyRemoteProgress 别人的笔画进度：只画新一段，O(1) 不重画
func (rc *Reconciler) ApplyRemoteProgress(operationID string, p protocol.Point) {
	op := rc.index[operationID]
	if op == nil {
		// 没见过 draw-start（丢包/晚到），没法增量合并，丢弃
		return
	}
	prev := p
	if n := len(op.Path); n > 0 {
		prev = op.Path[n-1]
	}
	op.Path = append(op.Path, p)
	rc.renderer.DrawSegment(op, prev, p)
	rc.rendered[operationID] = len(op.Path)
}

// ApplyRemoteEnd 笔画收尾（Remote-Complete）
func (rc *Reconciler) ApplyRemoteEnd(operationID string) {
	if op := rc.index[operationID]; op != nil {
		op.Open = false
	}
}

// ApplyRemoteOperation 单次完整送达的记录（erase / 图形 / 文字 / 图片）
func (rc *Reconciler) ApplyRemoteOperation(op *protocol.Operation) {
	rc.upsert(op)
}

// ApplyRemoteUndo 远端撤销：从镜像摘除后整体重画。
// 本端先行撤销过的操作会再收到一次（undo 广播包含发送者），按无事发生处理。
func (rc *Reconciler) ApplyRemoteUndo(operationID string) {
	if rc.remove(operationID) {
		rc.redrawAll()
	}
}

// ApplyRemoteClear 清屏：镜像坍缩成仅剩清屏标记，撤销栈一并作废
func (rc *Reconciler) ApplyRemoteClear(marker *protocol.Operation) {
	rc.ops = rc.ops[:0]
	rc.index = make(map[string]*protocol.Operation)
	rc.rendered = make(map[string]int)
	rc.done = nil
	rc.undone = nil
	if marker != nil {
		rc.ops = append(rc.ops, marker)
		rc.index[marker.ID] = marker
	}
	rc.renderer.Clear()
}

// ---- 本端编辑（乐观，先画先发，调用方负责发消息）----

// LocalStart 本端开始一条笔画（Local-Active）。
// 任何新开始的操作都作废 redo 分支（标准的分支失效规则）。
func (rc *Reconciler) LocalStart(op *protocol.Operation) {
	rc.undone = nil
	rc.append(op)
	if len(op.Path) > 0 {
		rc.renderer.DrawSegment(op, op.Path[0], op.Path[0])
		rc.rendered[op.ID] = len(op.Path)
	}
}

func (rc *Reconciler) LocalProgress(operationID string, p protocol.Point) {
	op := rc.index[operationID]
	if op == nil {
		return
	}
	prev := p
	if n := len(op.Path); n > 0 {
		prev = op.Path[n-1]
	}
	op.Path = append(op.Path, p)
	rc.renderer.DrawSegment(op, prev, p)
	rc.rendered[operationID] = len(op.Path)
}

// LocalEnd 收笔：操作进入 Finalized-Local，开始参与本地撤销
func (rc *Reconciler) LocalEnd(operationID string) {
	op := rc.index[operationID]
	if op == nil {
		return
	}
	op.Open = false
	rc.done = append(rc.done, op)
}

// LocalOperation 本端的单次完整操作（图形/文字/图片/擦除）
func (rc *Reconciler) LocalOperation(op *protocol.Operation) {
	rc.undone = nil
	rc.append(op)
	rc.renderer.DrawOperation(op)
	rc.rendered[op.ID] = len(op.Path)
	rc.done = append(rc.done, op)
}

// ---- 内部 ----

// upsert 是增量合并的核心：未知操作整条上屏；已知操作按长度差
// 只补画未覆盖的后缀（Snapshot 里可能带着还在生长的笔画）。
func (rc *Reconciler) upsert(op *protocol.Operation) {
	existing := rc.index[op.ID]
	if existing == nil {
		cp := *op
		rc.append(&cp)
		if len(cp.Path) > 0 {
			rc.renderSuffix(&cp, 0)
		} else {
			rc.renderer.DrawOperation(&cp)
		}
		rc.rendered[cp.ID] = len(cp.Path)
		return
	}
	known := rc.rendered[op.ID]
	if len(op.Path) > known {
		existing.Path = append(existing.Path[:0], op.Path...)
		rc.renderSuffix(existing, known)
		rc.rendered[op.ID] = len(existing.Path)
	}
	if !op.Open {
		existing.Open = false
	}
}

// renderSuffix 从 from 下标起逐段补画
func (rc *Reconciler) renderSuffix(op *protocol.Operation, from int) {
	if len(op.Path) == 0 {
		return
	}
	if from == 0 {
		rc.renderer.DrawSegment(op, op.Path[0], op.Path[0])
		from = 1
	}
	for i := from; i < len(op.Path); i++ {
		rc.renderer.DrawSegment(op, op.Path[i-1], op.Path[i])
	}
}

func (rc *Reconciler) append(op *protocol.Operation) {
	rc.ops = append(rc.ops, op)
	rc.index[op.ID] = op
}

func (rc *Reconciler) remove(operationID string) bool {
	if rc.index[operationID] == nil {
		return false
	}
	delete(rc.index, operationID)
	delete(rc.rendered, operationID)
	for i, op := range rc.ops {
		if op.ID == operationID {
			rc.ops = append(rc.ops[:i], rc.ops[i+1:]...)
			break
		}
	}
	// 撤销栈里也不能留尸体
	rc.done = purge(rc.done, operationID)
	rc.undone = purge(rc.undone, operationID)
	return true
}

func purge(stack []*protocol.Operation, operationID string) []*protocol.Operation {
	for i, op := range stack {
		if op.ID == operationID {
			return append(stack[:i], stack[i+1:]...)
		}
	}
	return stack
}

// redrawAll 清屏后按镜像顺序整体重画（撤销走这条路，选正确性而不是省事）
func (rc *Reconciler) redrawAll() {
	rc.renderer.Clear()
	for _, op := range rc.ops {
		rc.renderer.DrawOperation(op)
		rc.rendered[op.ID] = len(op.Path)
	}
}
