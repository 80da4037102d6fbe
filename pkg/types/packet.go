package types

import (
	"github.com/google/gopacket"
)

// Packet 表示数据面流水线中传递的报文
type Packet struct {
	ID          string
	Port        uint16 // 收包端口
	Timestamp   int64
	RawData     []byte
	CaptureInfo gopacket.CaptureInfo
	Error       error

	Verdict *Verdict // 流表匹配结果
	Egress  *Verdict // 出方向流表匹配结果
}

// Fate 报文的最终去向
type Fate uint8

const (
	FatePass  Fate = iota + 1 // 未命中或passthru，按默认队列接收
	FateDrop                  // 丢弃
	FateQueue                 // 送到指定接收队列
	FatePort                  // 转发到其他端口
)

func (f Fate) String() string {
	switch f {
	case FatePass:
		return "pass"
	case FateDrop:
		return "drop"
	case FateQueue:
		return "queue"
	case FatePort:
		return "port"
	default:
		return "unknown"
	}
}

// Verdict 软件卸载层对单个报文的分类结果
type Verdict struct {
	FlowID  uint32 // 最后命中的流规则ID，Matched为true时有效
	Matched bool
	Fate    Fate
	Queue   uint16
	OutPort uint16
	Mark    uint32
	Marked  bool
}

// Stage 表示处理阶段
type Stage int

const (
	StageFlowClassification Stage = iota + 1 //流表分类
	StageFrameRewrite                        //报文改写
	StageEgressClassification                //出方向流表分类
)
