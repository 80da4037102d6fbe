package metrics

import (
	"sync/atomic"
	"time"

	"github.com/haolipeng/runpmd/pkg/types"
)

type ProcessorMetrics struct {
	ProcessedPackets uint64
	DroppedPackets   uint64
	ProcessingTime   uint64 // 纳秒
	MatchedPackets   uint64 // 命中任意流规则
	QueuedPackets    uint64
	ForwardedPackets uint64 // 转发到其他端口
	MarkedPackets    uint64
}

func (m *ProcessorMetrics) IncrementProcessed() {
	atomic.AddUint64(&m.ProcessedPackets, 1)
}

func (m *ProcessorMetrics) IncrementDropped() {
	atomic.AddUint64(&m.DroppedPackets, 1)
}

// RecordVerdict 按分类结果累加计数，drop 计入 DroppedPackets
func (m *ProcessorMetrics) RecordVerdict(v types.Verdict) {
	if v.Matched {
		atomic.AddUint64(&m.MatchedPackets, 1)
	}
	if v.Marked {
		atomic.AddUint64(&m.MarkedPackets, 1)
	}
	switch v.Fate {
	case types.FateDrop:
		m.IncrementDropped()
	case types.FateQueue:
		atomic.AddUint64(&m.QueuedPackets, 1)
	case types.FatePort:
		atomic.AddUint64(&m.ForwardedPackets, 1)
	}
}

func (m *ProcessorMetrics) AddProcessingTime(duration time.Duration) {
	atomic.AddUint64(&m.ProcessingTime, uint64(duration.Nanoseconds()))
}

type SourceMetrics struct {
	PacketsCaptured uint64
	BytesProcessed  uint64
	ErrorCount      uint64
}

func (m *SourceMetrics) IncrementErrorCount() {
	atomic.AddUint64(&m.ErrorCount, 1)
}

// IncrementPacketsCaptured 增加捕获的数据包计数
func (m *SourceMetrics) IncrementPacketsCaptured() {
	atomic.AddUint64(&m.PacketsCaptured, 1)
}

// AddBytesProcessed 增加处理的字节数
func (m *SourceMetrics) AddBytesProcessed(bytes uint64) {
	atomic.AddUint64(&m.BytesProcessed, bytes)
}

type SinkMetrics struct {
	PacketsWritten uint64
	WriteErrors    uint64
	BytesWritten   uint64
}

func (m *SinkMetrics) AddWritten(bytes int) {
	atomic.AddUint64(&m.PacketsWritten, 1)
	atomic.AddUint64(&m.BytesWritten, uint64(bytes))
}

func (m *SinkMetrics) IncrementWriteErrors() {
	atomic.AddUint64(&m.WriteErrors, 1)
}

// GetStats 处理器指标快照
func (m *ProcessorMetrics) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"processed_packets": atomic.LoadUint64(&m.ProcessedPackets),
		"dropped_packets":   atomic.LoadUint64(&m.DroppedPackets),
		"processing_time":   atomic.LoadUint64(&m.ProcessingTime),
		"matched_packets":   atomic.LoadUint64(&m.MatchedPackets),
		"queued_packets":    atomic.LoadUint64(&m.QueuedPackets),
		"forwarded_packets": atomic.LoadUint64(&m.ForwardedPackets),
		"marked_packets":    atomic.LoadUint64(&m.MarkedPackets),
		"avg_process_time": float64(atomic.LoadUint64(&m.ProcessingTime)) /
			float64(atomic.LoadUint64(&m.ProcessedPackets)+1),
	}
}
