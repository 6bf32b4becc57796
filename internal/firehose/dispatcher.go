package firehose

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// Dispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞消息处理主链路（转发侧只负责入队）
// - Kafka 短暂阻塞时靠队列吸收，后台慢慢补发
// - 队列满时允许降级（丢弃），避免内存无限增长
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan BoardOpEvent

	sem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewDispatcher(producer sarama.SyncProducer, topic string, sem *SemaphoreControl, opt DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan BoardOpEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.Start()
	return d
}

// Publish：把事件放入本地队列，队列满直接丢（操作流不要求每条必达）。
// 接收方是 nil Dispatcher 时同样直接返回，未开启 kafka 的部署走这条路。
func (d *Dispatcher) Publish(evt BoardOpEvent) {
	if d == nil {
		return
	}
	select {
	case d.queue <- evt:
	default:
		log.Printf("firehose queue full, drop event room=%s op=%s", evt.RoomID, evt.OperationID)
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt BoardOpEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// worker 允许一直等待（不会影响主链路）
			_ = d.sem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop event room=%s op=%s worker=%d err=%v",
				evt.RoomID, evt.OperationID, workerID, err)
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(evt BoardOpEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.RoomID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
