package processor

import (
	"context"
	"sync"
	"time"

	"github.com/haolipeng/runpmd/pkg/metrics"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// handleFunc 处理单个报文，返回false时报文不再向下游传递
type handleFunc func(packet *types.Packet) bool

// runStage 单goroutine处理，保持端口内报文顺序
func runStage(ctx context.Context, name string, in <-chan *types.Packet, out chan<- *types.Packet,
	wg *sync.WaitGroup, m *metrics.ProcessorMetrics, handle handleFunc) {
	go func() {
		defer wg.Done()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				logrus.Debugf("Stopping %s: context cancellation", name)
				return
			case packet, ok := <-in:
				if !ok {
					logrus.Debugf("Stopping %s: input channel closed", name)
					return
				}
				if packet == nil {
					logrus.Warnf("%s received nil packet", name)
					continue
				}

				start := time.Now()
				keep := handle(packet)
				m.AddProcessingTime(time.Since(start))
				m.IncrementProcessed()
				if !keep {
					continue
				}

				select {
				case out <- packet:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}
