package flow

import (
	"encoding/binary"
	"unsafe"

	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
)

// ItemType 匹配项类型，取值与 rte_flow.h 中 enum rte_flow_item_type 一致
type ItemType int

const (
	ItemTypeEnd    ItemType = 0
	ItemTypeVoid   ItemType = 1
	ItemTypeInvert ItemType = 2
	ItemTypeAny    ItemType = 3
	ItemTypePortID ItemType = 4
	ItemTypeRaw    ItemType = 5
	ItemTypeEth    ItemType = 6
	ItemTypeVlan   ItemType = 7
	ItemTypeIPv4   ItemType = 8
	ItemTypeIPv6   ItemType = 9
	ItemTypeICMP   ItemType = 10
	ItemTypeUDP    ItemType = 11
	ItemTypeTCP    ItemType = 12
)

var itemTypeNames = map[ItemType]string{
	ItemTypeEnd:    "end",
	ItemTypeVoid:   "void",
	ItemTypeInvert: "invert",
	ItemTypeAny:    "any",
	ItemTypePortID: "port_id",
	ItemTypeRaw:    "raw",
	ItemTypeEth:    "eth",
	ItemTypeVlan:   "vlan",
	ItemTypeIPv4:   "ipv4",
	ItemTypeIPv6:   "ipv6",
	ItemTypeICMP:   "icmp",
	ItemTypeUDP:    "udp",
	ItemTypeTCP:    "tcp",
}

func (t ItemType) String() string {
	if name, ok := itemTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ActionType 动作类型，取值与 enum rte_flow_action_type 一致
type ActionType int

const (
	ActionTypeEnd             ActionType = 0
	ActionTypeVoid            ActionType = 1
	ActionTypePassthru        ActionType = 2
	ActionTypeJump            ActionType = 3
	ActionTypeMark            ActionType = 4
	ActionTypeFlag            ActionType = 5
	ActionTypeQueue           ActionType = 6
	ActionTypeDrop            ActionType = 7
	ActionTypeCount           ActionType = 8
	ActionTypeRSS             ActionType = 9
	ActionTypePF              ActionType = 10
	ActionTypeVF              ActionType = 11
	ActionTypePortID          ActionType = 13
	ActionTypeRepresentedPort ActionType = 56
)

var actionTypeNames = map[ActionType]string{
	ActionTypeEnd:             "end",
	ActionTypeVoid:            "void",
	ActionTypePassthru:        "passthru",
	ActionTypeJump:            "jump",
	ActionTypeMark:            "mark",
	ActionTypeFlag:            "flag",
	ActionTypeQueue:           "queue",
	ActionTypeDrop:            "drop",
	ActionTypeCount:           "count",
	ActionTypeRSS:             "rss",
	ActionTypePF:              "pf",
	ActionTypeVF:              "vf",
	ActionTypePortID:          "port_id",
	ActionTypeRepresentedPort: "represented_port",
}

func (t ActionType) String() string {
	if name, ok := actionTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// 下面的结构体与DPDK描述符内存布局一致，字段偏移在注册时通过 unsafe.Offsetof 计算

// FlowAttr 对应 struct rte_flow_attr，方向标志位于 Flags 的低三位
type FlowAttr struct {
	Group    uint32
	Priority uint32
	Flags    uint32
}

const (
	AttrIngress  uint32 = 1 << 0
	AttrEgress   uint32 = 1 << 1
	AttrTransfer uint32 = 1 << 2
)

func (a FlowAttr) Ingress() bool  { return a.Flags&AttrIngress != 0 }
func (a FlowAttr) Egress() bool   { return a.Flags&AttrEgress != 0 }
func (a FlowAttr) Transfer() bool { return a.Flags&AttrTransfer != 0 }

// Bytes 按主机字节序输出属性记录
func (a FlowAttr) Bytes() []byte {
	out := make([]byte, unsafe.Sizeof(a))
	binary.NativeEndian.PutUint32(out[unsafe.Offsetof(a.Group):], a.Group)
	binary.NativeEndian.PutUint32(out[unsafe.Offsetof(a.Priority):], a.Priority)
	binary.NativeEndian.PutUint32(out[unsafe.Offsetof(a.Flags):], a.Flags)
	return out
}

func flowAttrFromBytes(b []byte) FlowAttr {
	var a FlowAttr
	a.Group = binary.NativeEndian.Uint32(b[unsafe.Offsetof(a.Group):])
	a.Priority = binary.NativeEndian.Uint32(b[unsafe.Offsetof(a.Priority):])
	a.Flags = binary.NativeEndian.Uint32(b[unsafe.Offsetof(a.Flags):])
	return a
}

// EtherHdr 对应 struct rte_ether_hdr
type EtherHdr struct {
	DstAddr   [6]byte
	SrcAddr   [6]byte
	EtherType uint16 // 网络字节序
}

// ItemEth 对应 struct rte_flow_item_eth
type ItemEth struct {
	Hdr   EtherHdr
	Flags uint32 // has_vlan:1, reserved:31
}

// VlanHdr 对应 struct rte_vlan_hdr
type VlanHdr struct {
	VlanTCI  uint16
	EthProto uint16
}

// ItemVlan 对应 struct rte_flow_item_vlan
type ItemVlan struct {
	Hdr   VlanHdr
	Flags uint32 // has_more_vlan:1, reserved:31
}

// IPv4Hdr 对应 struct rte_ipv4_hdr
type IPv4Hdr struct {
	VersionIHL     uint8
	TypeOfService  uint8
	TotalLength    uint16
	PacketID       uint16
	FragmentOffset uint16
	TimeToLive     uint8
	NextProtoID    uint8
	HdrChecksum    uint16
	SrcAddr        [4]byte
	DstAddr        [4]byte
}

// ItemIPv4 对应 struct rte_flow_item_ipv4
type ItemIPv4 struct {
	Hdr IPv4Hdr
}

// UDPHdr 对应 struct rte_udp_hdr
type UDPHdr struct {
	SrcPort    uint16
	DstPort    uint16
	DgramLen   uint16
	DgramCksum uint16
}

type ItemUDP struct {
	Hdr UDPHdr
}

// TCPHdr 对应 struct rte_tcp_hdr
type TCPHdr struct {
	SrcPort  uint16
	DstPort  uint16
	SentSeq  uint32
	RecvAck  uint32
	DataOff  uint8
	TCPFlags uint8
	RxWin    uint16
	Cksum    uint16
	TCPUrp   uint16
}

type ItemTCP struct {
	Hdr TCPHdr
}

// ActionQueue 对应 struct rte_flow_action_queue
type ActionQueue struct {
	Index uint16
}

// ActionEthdev 对应 struct rte_flow_action_ethdev
type ActionEthdev struct {
	PortID uint16
}

// ActionPortID 对应 struct rte_flow_action_port_id
type ActionPortID struct {
	Flags uint32 // original:1, reserved:31
	ID    uint32
}

// ActionMark 对应 struct rte_flow_action_mark
type ActionMark struct {
	ID uint32
}

// ActionJump 对应 struct rte_flow_action_jump
type ActionJump struct {
	Group uint32
}

// ActionCount 对应 struct rte_flow_action_count
type ActionCount struct {
	ID uint32
}

// 编译期检查：所有描述符都必须能放进参数缓冲区
const (
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(FlowAttr{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ItemEth{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ItemVlan{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ItemIPv4{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ItemUDP{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ItemTCP{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ActionQueue{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ActionEthdev{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ActionPortID{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ActionMark{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ActionJump{}))
	_ = uint(arg.ArgDataSize - unsafe.Sizeof(ActionCount{}))
)

// FieldSpan 匹配项中写过的一个字段
type FieldSpan struct {
	Offset int
	Size   int
}

// FlowItem 编译后的匹配项，Spec/Mask/Last 为nil表示空指针
// Fields 记录命令中出现过的字段，范围匹配按字段逐个比较
type FlowItem struct {
	Type   ItemType
	Spec   []byte
	Mask   []byte
	Last   []byte
	Fields []FieldSpan
}

// FlowAction 编译后的动作，Conf 为nil表示空指针
type FlowAction struct {
	Type ActionType
	Conf []byte
}
