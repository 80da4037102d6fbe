package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/runpmd/pkg/metrics"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// PcapFileSource 从pcap文件读取报文，作为一个端口的收包队列
type PcapFileSource struct {
	reader   *pcapgo.Reader
	closer   io.Closer
	port     *port.Port
	output   chan *types.Packet
	done     chan struct{}
	stats    *metrics.SourceMetrics
	filename string
}

// NewPcapFileSource 打开pcap文件
func NewPcapFileSource(filename string, p *port.Port, bufferSize int) (*PcapFileSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	s, err := NewPcapReaderSource(f, p, bufferSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}
	s.closer = f
	s.filename = filename
	return s, nil
}

// NewPcapReaderSource 从任意pcap格式的流读取报文
func NewPcapReaderSource(r io.Reader, p *port.Port, bufferSize int) (*PcapFileSource, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &PcapFileSource{
		reader:   reader,
		port:     p,
		output:   make(chan *types.Packet, bufferSize),
		done:     make(chan struct{}),
		stats:    &metrics.SourceMetrics{},
		filename: "<stream>",
	}, nil
}

func (s *PcapFileSource) Start(ctx context.Context, wg *sync.WaitGroup) error {
	log := logrus.WithFields(logrus.Fields{"port": s.port.ID, "file": s.filename})
	log.Info("Started reading packets from file")

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(s.output)
		defer close(s.done)
		if s.closer != nil {
			defer s.closer.Close()
		}

		var packetCount int64
		for {
			data, ci, err := s.reader.ReadPacketData()
			if err != nil {
				if errors.Is(err, io.EOF) {
					log.Info("Reached end of pcap file")
				} else {
					s.stats.IncrementErrorCount()
					log.Warnf("Error reading packet: %v", err)
				}
				return
			}

			packetCount++
			s.stats.IncrementPacketsCaptured()
			s.stats.AddBytesProcessed(uint64(len(data)))
			s.port.Stats.RxPackets.Add(1)

			pkt := &types.Packet{
				ID:          fmt.Sprintf("p%d-%d", s.port.ID, packetCount),
				Port:        s.port.ID,
				Timestamp:   ci.Timestamp.UnixNano(),
				RawData:     data,
				CaptureInfo: ci,
			}
			select {
			case s.output <- pkt:
			case <-ctx.Done():
				log.Info("Stopping packet reading due to context cancellation")
				return
			}
		}
	}()

	return nil
}

func (s *PcapFileSource) Output() <-chan *types.Packet {
	return s.output
}

func (s *PcapFileSource) GetStats() *metrics.SourceMetrics {
	return s.stats
}

func (s *PcapFileSource) WaitForCompletion() <-chan struct{} {
	return s.done
}
