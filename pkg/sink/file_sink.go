package sink

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/runpmd/pkg/metrics"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// DefaultMaxFileSize 单个pcap文件的默认大小上限
const DefaultMaxFileSize = int64(50 * 1024 * 1024)

// PcapWriter 一个端口的发包文件，超过大小上限后切换到新文件
// 多条流水线可能同时向同一个端口发包，写入需要加锁
type PcapWriter struct {
	baseFilename string // 基础文件名（如 "out/port1"）
	maxFileSize  int64
	currentSize  int64
	fileIndex    int
	pcapWriter   *pcapgo.Writer
	curFileName  string
	file         *os.File
	mu           sync.Mutex
	stats        metrics.SinkMetrics
}

func NewPcapWriter(baseFilename string, maxFileSize int64) (*PcapWriter, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	w := &PcapWriter{
		baseFilename: baseFilename,
		maxFileSize:  maxFileSize,
		fileIndex:    1,
	}

	if err := w.createNewPcapFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *PcapWriter) createNewPcapFile() error {
	// 生成文件名：port1_20240318_153000_1.pcap
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%d.pcap", w.baseFilename, timestamp, w.fileIndex)

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create pcap file: %w", err)
	}

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			logrus.Errorf("Failed to close previous pcap file: %v", err)
		}
	}

	pw := pcapgo.NewWriter(f)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("failed to write pcap header: %w", err)
	}

	w.curFileName = filename
	w.file = f
	w.pcapWriter = pw
	w.currentSize = 0
	w.fileIndex++

	logrus.Infof("Created new pcap file: %s", filename)
	return nil
}

// WritePacket 写入一个报文
func (w *PcapWriter) WritePacket(packet *types.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("pcap writer %s is closed", w.baseFilename)
	}

	if w.currentSize >= w.maxFileSize {
		if err := w.createNewPcapFile(); err != nil {
			w.stats.IncrementWriteErrors()
			return err
		}
	}

	ci := packet.CaptureInfo
	ci.CaptureLength = len(packet.RawData)
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Unix(0, packet.Timestamp)
	}

	if err := w.pcapWriter.WritePacket(ci, packet.RawData); err != nil {
		w.stats.IncrementWriteErrors()
		return fmt.Errorf("failed to write packet to pcap: %w", err)
	}

	w.currentSize += int64(len(packet.RawData))
	w.stats.AddWritten(len(packet.RawData))
	return nil
}

// CurrentFile 当前写入的文件名
func (w *PcapWriter) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.curFileName
}

func (w *PcapWriter) Stats() *metrics.SinkMetrics {
	return &w.stats
}

func (w *PcapWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// PacketWriter 端口的发包接口
type PacketWriter interface {
	WritePacket(packet *types.Packet) error
}

// PortSink 按分类结果把报文交给发送端口，drop 的报文只计数
type PortSink struct {
	ports   *port.Table
	writers map[uint16]PacketWriter
	txPort  func(*types.Packet) uint16
	ready   chan struct{}
	name    string
}

// NewPortSink writers 中没有的端口视为不发包，报文计入该端口的 TxPackets 后丢弃
func NewPortSink(name string, ports *port.Table, writers map[uint16]PacketWriter, txPort func(*types.Packet) uint16) *PortSink {
	return &PortSink{
		ports:   ports,
		writers: writers,
		txPort:  txPort,
		ready:   make(chan struct{}),
		name:    name,
	}
}

func (s *PortSink) Consume(ctx context.Context, in <-chan *types.Packet) error {
	logrus.WithField("sink", s.name).Info("Starting port sink consumer")
	defer logrus.WithField("sink", s.name).Info("Port sink consumer stopped")

	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case packet, ok := <-in:
			if !ok {
				return nil
			}
			s.transmit(packet)
		}
	}
}

func (s *PortSink) transmit(packet *types.Packet) {
	if packet.Verdict != nil && packet.Verdict.Fate == types.FateDrop {
		return
	}

	tx := s.txPort(packet)
	p, ok := s.ports.Get(tx)
	if !ok {
		logrus.Warnf("Packet %s: unknown tx port %d", packet.ID, tx)
		return
	}

	if w, ok := s.writers[tx]; ok {
		if err := w.WritePacket(packet); err != nil {
			logrus.Errorf("Failed to write packet %s: %v", packet.ID, err)
			p.Stats.Dropped.Add(1)
			return
		}
	}
	p.Stats.TxPackets.Add(1)
}

func (s *PortSink) Ready() <-chan struct{} {
	return s.ready
}
