package firehose

import (
	"context"
	"testing"
	"time"
)

// 未开启 kafka 的部署拿到的是 nil *Dispatcher，Publish 必须安全
func TestNilDispatcherPublish(t *testing.T) {
	var d *Dispatcher
	d.Publish(BoardOpEvent{EventType: EventOpApplied, RoomID: "room-a"})
}

// producer 为 nil 时 sendOnce 即成功（空跑配置）
func TestSendOnceWithoutProducer(t *testing.T) {
	d := &Dispatcher{topic: "board-ops"}
	if err := d.sendOnce(BoardOpEvent{RoomID: "room-a", OperationID: "op-1"}); err != nil {
		t.Fatalf("sendOnce: %v", err)
	}
}

// 队列满时 Publish 就地丢弃，永不阻塞转发主链路
func TestPublishDropsWhenQueueFull(t *testing.T) {
	d := &Dispatcher{queue: make(chan BoardOpEvent, 1)} // 不 Start，没有 worker 消费

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			d.Publish(BoardOpEvent{RoomID: "room-a"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	if len(d.queue) != 1 {
		t.Errorf("queue len = %d, want 1", len(d.queue))
	}
}

func TestWorkerDrainsQueue(t *testing.T) {
	d := NewDispatcher(nil, "", nil, DispatcherOptions{
		QueueSize: 8, Workers: 1, MaxRetry: 0,
		BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
	})
	for i := 0; i < 8; i++ {
		d.Publish(BoardOpEvent{RoomID: "room-a"})
	}
	deadline := time.Now().Add(time.Second)
	for len(d.queue) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue not drained, %d left", len(d.queue))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSemaphoreAcquireRelease(t *testing.T) {
	old := MaxSemaphore
	MaxSemaphore = 1
	defer func() { MaxSemaphore = old }()

	sem := NewSemaphoreControl()
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// 已占满时带超时的 Acquire 应该在 ctx 到期后返回错误
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sem.Acquire(ctx); err == nil {
		t.Fatal("second acquire should have failed on a full semaphore")
	}

	if err := sem.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := sem.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}
