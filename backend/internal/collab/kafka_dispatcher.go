package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"followServer/backend/internal/metrics"
)

var ErrDispatcherClosed = errors.New("DISPATCHER_CLOSED")

// KafkaDispatcher 把审计事件放进本地有界队列，由 worker 异步发送并有限重试。
// 视图更新和 buffer 提交只负责入队；Kafka 短暂不可用时由队列吸收，队列满时丢弃。
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan Event
	// 限制同时进行的 SendMessage
	sendSem *SemaphoreControl
	opt     KafkaDispatcherOptions

	// 保护 queue 的关闭；入队持读锁
	mu     sync.RWMutex
	closed bool
	// Close 后打断重试等待
	stop chan struct{}
	wg   sync.WaitGroup
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sendSem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	d := &KafkaDispatcher{
		producer: producer,
		topic:    topic,
		queue:    make(chan Event, opt.QueueSize),
		sendSem:  sendSem,
		opt:      opt,
		stop:     make(chan struct{}),
	}
	for i := 0; i < opt.Workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	return d
}

// Enqueue 等到队列有空位或 ctx 结束；审计事件不要求每条都送达
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue 不等待；队列满时丢弃并返回 ErrQueueFull
func (d *KafkaDispatcher) TryEnqueue(evt Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		metrics.KafkaDropped.Inc()
		return ErrQueueFull
	}
}

// Close 停止接收新事件，并在 ctx 结束前尽量发完队列里剩下的
func (d *KafkaDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		close(d.stop)
		log.Printf("kafka dispatcher close timeout, pending=%d", len(d.queue))
		return ctx.Err()
	}
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *KafkaDispatcher) backoff(attempt int) time.Duration {
	b := d.opt.BaseBackoff << attempt
	if b <= 0 || (d.opt.MaxBackoff > 0 && b > d.opt.MaxBackoff) {
		b = d.opt.MaxBackoff
	}
	return b
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt Event) {
	var err error
	for attempt := 0; attempt <= d.opt.MaxRetry; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.backoff(attempt - 1)):
			case <-d.stop:
				metrics.KafkaDropped.Inc()
				return
			}
		}
		if err = d.sendOnce(evt); err == nil {
			metrics.KafkaSent.WithLabelValues(evt.Kind()).Inc()
			return
		}
	}
	metrics.KafkaDropped.Inc()
	log.Printf("kafka send failed, drop event type=%s key=%s worker=%d err=%v",
		evt.Kind(), evt.PartitionKey(), workerID, err)
}

func (d *KafkaDispatcher) sendOnce(evt Event) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if d.sendSem != nil {
		// worker 可以一直等，不影响主链路
		_ = d.sendSem.Acquire(context.Background())
		defer d.sendSem.Release()
	}
	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   d.topic,
		Key:     sarama.StringEncoder(evt.PartitionKey()),
		Value:   sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{{Key: []byte("event-type"), Value: []byte(evt.Kind())}},
	})
	return err
}
