package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/haolipeng/runpmd/pkg/metrics"
	"github.com/haolipeng/runpmd/pkg/offload"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// Classifier 流表分类器
type Classifier interface {
	Classify(port uint16, dir offload.Direction, headers []offload.Header, length int) types.Verdict
}

// FlowClassifier 入方向流表分类，结果写入 packet.Verdict
type FlowClassifier struct {
	classifier Classifier
	port       *port.Port
	decoder    *offload.Decoder
	metrics    *metrics.ProcessorMetrics
	bufferSize int
}

func NewFlowClassifier(c Classifier, p *port.Port, bufferSize int) *FlowClassifier {
	return &FlowClassifier{
		classifier: c,
		port:       p,
		decoder:    offload.NewDecoder(),
		metrics:    &metrics.ProcessorMetrics{},
		bufferSize: bufferSize,
	}
}

func (p *FlowClassifier) Stage() types.Stage {
	return types.StageFlowClassification
}

func (p *FlowClassifier) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet, p.bufferSize)
	runStage(ctx, p.Name(), in, out, wg, p.metrics, p.classify)
	return out, nil
}

func (p *FlowClassifier) classify(packet *types.Packet) bool {
	headers := p.decoder.Decode(packet.RawData)

	// 非混杂模式下目的MAC不属于本端口的帧在分类前丢弃
	if !p.port.Accept(p.decoder.DstMAC()) {
		packet.Verdict = &types.Verdict{Fate: types.FateDrop}
		p.port.Stats.Dropped.Add(1)
		p.metrics.IncrementDropped()
		return true
	}

	v := p.classifier.Classify(p.port.ID, offload.DirIngress, headers, len(packet.RawData))
	packet.Verdict = &v
	p.metrics.RecordVerdict(v)
	if v.Fate == types.FateDrop {
		p.port.Stats.Dropped.Add(1)
	}

	logrus.WithFields(logrus.Fields{
		"packet": packet.ID,
		"port":   p.port.ID,
		"fate":   v.Fate,
	}).Trace("packet classified")
	return true
}

func (p *FlowClassifier) Name() string {
	return fmt.Sprintf("FlowClassifier-%d", p.port.ID)
}

func (p *FlowClassifier) CheckReady() error {
	if p.classifier == nil {
		return fmt.Errorf("flow classifier has no flow table")
	}
	if p.bufferSize <= 0 {
		return fmt.Errorf("invalid buffer size: %d", p.bufferSize)
	}
	return nil
}

func (p *FlowClassifier) Metrics() *metrics.ProcessorMetrics {
	return p.metrics
}

// EgressClassifier 出方向流表分类，在报文的发送端口上评估 egress 规则
type EgressClassifier struct {
	classifier Classifier
	ports      *port.Table
	decoder    *offload.Decoder
	metrics    *metrics.ProcessorMetrics
	bufferSize int
	name       string
}

func NewEgressClassifier(c Classifier, ports *port.Table, name string, bufferSize int) *EgressClassifier {
	return &EgressClassifier{
		classifier: c,
		ports:      ports,
		decoder:    offload.NewDecoder(),
		metrics:    &metrics.ProcessorMetrics{},
		bufferSize: bufferSize,
		name:       name,
	}
}

func (p *EgressClassifier) Stage() types.Stage {
	return types.StageEgressClassification
}

func (p *EgressClassifier) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet, p.bufferSize)
	runStage(ctx, p.Name(), in, out, wg, p.metrics, p.classify)
	return out, nil
}

// TxPort 报文的发送端口，转发到其他端口时为目标端口，否则为收包端口
func TxPort(packet *types.Packet) uint16 {
	if packet.Verdict != nil && packet.Verdict.Fate == types.FatePort {
		return packet.Verdict.OutPort
	}
	return packet.Port
}

func (p *EgressClassifier) classify(packet *types.Packet) bool {
	if packet.Verdict != nil && packet.Verdict.Fate == types.FateDrop {
		return true
	}

	tx := TxPort(packet)
	if _, ok := p.ports.Get(tx); !ok {
		logrus.WithFields(logrus.Fields{"packet": packet.ID, "port": tx}).Warn("unknown tx port, packet dropped")
		dropPacket(packet)
		p.metrics.IncrementDropped()
		return true
	}

	v := p.classifier.Classify(tx, offload.DirEgress, p.decoder.Decode(packet.RawData), len(packet.RawData))
	packet.Egress = &v
	p.metrics.RecordVerdict(v)
	if v.Fate == types.FateDrop {
		dropPacket(packet)
	}
	return true
}

func dropPacket(packet *types.Packet) {
	if packet.Verdict == nil {
		packet.Verdict = &types.Verdict{}
	}
	packet.Verdict.Fate = types.FateDrop
}

func (p *EgressClassifier) Name() string {
	return "EgressClassifier-" + p.name
}

func (p *EgressClassifier) CheckReady() error {
	if p.classifier == nil || p.ports == nil {
		return fmt.Errorf("egress classifier is not configured")
	}
	return nil
}

func (p *EgressClassifier) Metrics() *metrics.ProcessorMetrics {
	return p.metrics
}
