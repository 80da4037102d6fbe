package offload

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
	"github.com/haolipeng/runpmd/pkg/types"
)

// Direction 规则生效的方向
type Direction int

const (
	DirIngress Direction = iota
	DirEgress
)

func (d Direction) String() string {
	if d == DirEgress {
		return "egress"
	}
	return "ingress"
}

// applies ingress 方向同时评估 transfer 规则
func applies(attr flow.FlowAttr, dir Direction) bool {
	if dir == DirEgress {
		return attr.Egress()
	}
	return attr.Ingress() || attr.Transfer()
}

// headerOf 软件流表支持的匹配项及对应的协议层
var headerOf = map[flow.ItemType]gopacket.LayerType{
	flow.ItemTypeEth:  layers.LayerTypeEthernet,
	flow.ItemTypeVlan: layers.LayerTypeDot1Q,
	flow.ItemTypeIPv4: layers.LayerTypeIPv4,
	flow.ItemTypeUDP:  layers.LayerTypeUDP,
	flow.ItemTypeTCP:  layers.LayerTypeTCP,
}

var itemOf = func() map[gopacket.LayerType]flow.ItemType {
	m := make(map[gopacket.LayerType]flow.ItemType, len(headerOf))
	for it, lt := range headerOf {
		m[lt] = it
	}
	return m
}()

// Header 解码出的一层协议头，Bytes 为网络字节序的原始头部
type Header struct {
	Type  flow.ItemType
	Bytes []byte
}

// Decoder 协议头解码器，内部复用缓冲区，不能跨goroutine共享
type Decoder struct {
	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ipv4    layers.IPv4
	udp     layers.UDP
	tcp     layers.TCP
	payload gopacket.Payload
	decoded []gopacket.LayerType
	headers []Header
}

func NewDecoder() *Decoder {
	d := &Decoder{}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&d.eth, &d.dot1q, &d.ipv4, &d.udp, &d.tcp, &d.payload)
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode 按协议栈顺序返回各层头部，返回值在下次调用前有效
func (d *Decoder) Decode(frame []byte) []Header {
	d.headers = d.headers[:0]
	// 截断或不支持的层只影响之后的层，已解码的层仍然可用
	_ = d.parser.DecodeLayers(frame, &d.decoded)
	for _, lt := range d.decoded {
		it, ok := itemOf[lt]
		if !ok {
			continue
		}
		var contents []byte
		switch lt {
		case layers.LayerTypeEthernet:
			contents = d.eth.Contents
		case layers.LayerTypeDot1Q:
			contents = d.dot1q.Contents
		case layers.LayerTypeIPv4:
			contents = d.ipv4.Contents
		case layers.LayerTypeUDP:
			contents = d.udp.Contents
		case layers.LayerTypeTCP:
			contents = d.tcp.Contents
		}
		d.headers = append(d.headers, Header{Type: it, Bytes: contents})
	}
	return d.headers
}

// DstMAC 最近一次解码的目的MAC
func (d *Decoder) DstMAC() []byte {
	if len(d.decoded) == 0 || d.decoded[0] != layers.LayerTypeEthernet {
		return nil
	}
	return d.eth.DstMAC
}

// matchItem spec/last 在 mask 下比较，头部不足的部分按0处理
func matchItem(item flow.FlowItem, hdr []byte) bool {
	if item.Spec == nil {
		return true
	}

	n := len(item.Spec)
	var h, s, l [64]byte
	if n > len(h) {
		return false
	}
	for i := 0; i < n; i++ {
		m := byte(0xff)
		if item.Mask != nil {
			m = item.Mask[i]
		}
		if i < len(hdr) {
			h[i] = hdr[i] & m
		}
		s[i] = item.Spec[i] & m
		if item.Last != nil {
			l[i] = item.Last[i] & m
		}
	}

	if item.Last == nil {
		return h == s
	}
	return matchRange(item.Fields, h[:n], s[:n], l[:n])
}

// matchRange 范围匹配按字段逐个比较 spec <= hdr <= last
// last 为0的字段按spec精确匹配，不属于任何字段的字节也精确匹配
func matchRange(fields []flow.FieldSpan, h, s, l []byte) bool {
	n := len(h)
	if len(fields) == 0 {
		fields = []flow.FieldSpan{{Offset: 0, Size: n}}
	}

	var covered [64]bool
	for _, f := range fields {
		end := f.Offset + f.Size
		if f.Offset < 0 || end > n {
			return false
		}
		for i := f.Offset; i < end; i++ {
			covered[i] = true
		}

		hf, sf, lf := h[f.Offset:end], s[f.Offset:end], l[f.Offset:end]
		if isZero(lf) {
			if !bytes.Equal(hf, sf) {
				return false
			}
			continue
		}
		if bytes.Compare(sf, hf) > 0 || bytes.Compare(hf, lf) > 0 {
			return false
		}
	}

	for i := 0; i < n; i++ {
		if !covered[i] && h[i] != s[i] {
			return false
		}
	}
	return true
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// matchPattern 匹配项按顺序对应协议栈中同类型的下一层
func matchPattern(pattern []flow.FlowItem, headers []Header) bool {
	pos := 0
	for _, item := range pattern {
		switch item.Type {
		case flow.ItemTypeEnd:
			return true
		case flow.ItemTypeVoid:
			continue
		}

		found := false
		for pos < len(headers) {
			h := headers[pos]
			pos++
			if h.Type == item.Type {
				found = matchItem(item, h.Bytes)
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func confUint16(conf []byte, off uintptr) uint16 {
	if len(conf) < int(off)+2 {
		return 0
	}
	return binary.NativeEndian.Uint16(conf[off:])
}

func confUint32(conf []byte, off uintptr) uint32 {
	if len(conf) < int(off)+4 {
		return 0
	}
	return binary.NativeEndian.Uint32(conf[off:])
}

func decodeJump(conf []byte) uint32 {
	var a flow.ActionJump
	return confUint32(conf, unsafe.Offsetof(a.Group))
}

// apply 执行一条规则的动作，返回是否跳转以及是否结束本组的匹配
func apply(f *Flow, v *types.Verdict, length int) (jumpTo uint32, jumped bool, terminal bool) {
	var (
		queue  flow.ActionQueue
		mark   flow.ActionMark
		portID flow.ActionPortID
		ethdev flow.ActionEthdev
	)

	terminal = true
	for _, action := range f.Actions {
		switch action.Type {
		case flow.ActionTypeEnd:
			return
		case flow.ActionTypeCount:
			f.Counter.Hits.Add(1)
			f.Counter.Bytes.Add(uint64(length))
		case flow.ActionTypeMark:
			v.Mark = confUint32(action.Conf, unsafe.Offsetof(mark.ID))
			v.Marked = true
		case flow.ActionTypeQueue:
			v.Fate = types.FateQueue
			v.Queue = confUint16(action.Conf, unsafe.Offsetof(queue.Index))
		case flow.ActionTypePortID:
			v.Fate = types.FatePort
			v.OutPort = uint16(confUint32(action.Conf, unsafe.Offsetof(portID.ID)))
		case flow.ActionTypeRepresentedPort:
			v.Fate = types.FatePort
			v.OutPort = confUint16(action.Conf, unsafe.Offsetof(ethdev.PortID))
		case flow.ActionTypeDrop:
			v.Fate = types.FateDrop
		case flow.ActionTypeJump:
			jumpTo, jumped = decodeJump(action.Conf), true
		case flow.ActionTypePassthru:
			terminal = false
		}
	}
	return
}

// Classify 按流表评估一帧：从group 0开始，组内按优先级顺序，跳转的目标组总是更大
func (o *SoftwareOffload) Classify(port uint16, dir Direction, headers []Header, length int) types.Verdict {
	v := types.Verdict{Fate: types.FatePass}
	t := o.snapshot(port)
	if t == nil {
		return v
	}

	group := uint32(0)
	for {
		jumped := false
		for _, f := range t.groups[group] {
			if !applies(f.Attr, dir) || !matchPattern(f.Pattern, headers) {
				continue
			}
			v.Matched = true
			v.FlowID = f.ID

			next, jump, terminal := apply(f, &v, length)
			if jump {
				group, jumped = next, true
				break
			}
			if terminal {
				return v
			}
		}
		if !jumped {
			return v
		}
	}
}

// ClassifyFrame 解码并评估一帧，每次调用新建解码器
func (o *SoftwareOffload) ClassifyFrame(port uint16, dir Direction, frame []byte) types.Verdict {
	return o.Classify(port, dir, NewDecoder().Decode(frame), len(frame))
}
