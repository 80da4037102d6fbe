package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/haolipeng/runpmd/pkg/metrics"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// MacSwap 交换以太网源/目的MAC后再发送，对应 testpmd 的 macswap 转发模式
type MacSwap struct {
	metrics    *metrics.ProcessorMetrics
	bufferSize int
	name       string
	eth        layers.Ethernet
	buffer     gopacket.SerializeBuffer
}

func NewMacSwap(name string, bufferSize int) *MacSwap {
	return &MacSwap{
		metrics:    &metrics.ProcessorMetrics{},
		bufferSize: bufferSize,
		name:       name,
		buffer:     gopacket.NewSerializeBuffer(),
	}
}

func (p *MacSwap) Stage() types.Stage {
	return types.StageFrameRewrite
}

func (p *MacSwap) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet, p.bufferSize)
	runStage(ctx, p.Name(), in, out, wg, p.metrics, p.rewrite)
	return out, nil
}

func (p *MacSwap) rewrite(packet *types.Packet) bool {
	if packet.Verdict != nil && packet.Verdict.Fate == types.FateDrop {
		return true
	}
	data, err := p.swap(packet.RawData)
	if err != nil {
		logrus.Debugf("Packet %s not rewritten: %v", packet.ID, err)
		return true
	}
	packet.RawData = data
	packet.CaptureInfo.CaptureLength = len(data)
	return true
}

// swap 返回新分配的帧，原帧不变
func (p *MacSwap) swap(frame []byte) ([]byte, error) {
	if err := p.eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	p.eth.SrcMAC, p.eth.DstMAC = p.eth.DstMAC, p.eth.SrcMAC

	if err := gopacket.SerializeLayers(p.buffer, gopacket.SerializeOptions{},
		&p.eth,
		gopacket.Payload(p.eth.Payload),
	); err != nil {
		return nil, fmt.Errorf("failed to serialize packet: %w", err)
	}
	return append([]byte(nil), p.buffer.Bytes()...), nil
}

func (p *MacSwap) Name() string {
	return "MacSwap-" + p.name
}

func (p *MacSwap) CheckReady() error {
	if p.bufferSize <= 0 {
		return fmt.Errorf("invalid buffer size: %d", p.bufferSize)
	}
	return nil
}

func (p *MacSwap) Metrics() *metrics.ProcessorMetrics {
	return p.metrics
}
