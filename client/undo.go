package client

import "whiteboard/protocol"

// Undo 本地撤销：弹出 done 栈尾，压入 undone，从镜像摘除并整体重画。
// 返回被撤销的操作（调用方据此通知服务端）；没有可撤销的返回 nil。
//
// 撤销走整体重画，重做只画那一条——这个不对称是有意的：
// 撤销后画布上"少了中间一条"，增量擦不掉已落下的像素，只能重画；
// 重做的那条操作完整且一定合法，直接补画即可。
func (rc *Reconciler) Undo() *protocol.Operation {
	n := len(rc.done)
	if n == 0 {
		return nil
	}
	op := rc.done[n-1]
	rc.done = rc.done[:n-1]
	rc.undone = append(rc.undone, op)

	delete(rc.index, op.ID)
	delete(rc.rendered, op.ID)
	for i, o := range rc.ops {
		if o.ID == op.ID {
			rc.ops = append(rc.ops[:i], rc.ops[i+1:]...)
			break
		}
	}
	rc.redrawAll()
	return op
}

// Redo 重做：弹回 done 栈，只增量画这一条，不整体重画
func (rc *Reconciler) Redo() *protocol.Operation {
	n := len(rc.undone)
	if n == 0 {
		return nil
	}
	op := rc.undone[n-1]
	rc.undone = rc.undone[:n-1]
	rc.done = append(rc.done, op)

	rc.append(op)
	rc.renderer.DrawOperation(op)
	rc.rendered[op.ID] = len(op.Path)
	return op
}

// CanUndo / CanRedo 给 UI 置灰按钮用
func (rc *Reconciler) CanUndo() bool { return len(rc.done) > 0 }
func (rc *Reconciler) CanRedo() bool { return len(rc.undone) > 0 }
