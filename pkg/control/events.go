package control

import (
	"sync"

	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// Broker 把流规则事件分发给订阅者，订阅者处理不过来时丢弃事件
type Broker struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]chan types.FlowEvent
	bufSize int
}

func NewBroker(bufSize int) *Broker {
	return &Broker{
		subs:    make(map[int]chan types.FlowEvent),
		bufSize: bufSize,
	}
}

// Publish 满足 types.FlowObserver，不会阻塞控制面
func (b *Broker) Publish(ev types.FlowEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logrus.WithField("subscriber", id).Warn("event subscriber too slow, event dropped")
		}
	}
}

// Subscribe 返回事件channel和取消函数，取消后channel被关闭
func (b *Broker) Subscribe() (<-chan types.FlowEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan types.FlowEvent, b.bufSize)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
