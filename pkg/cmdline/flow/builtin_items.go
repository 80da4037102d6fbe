package flow

import (
	"unsafe"

	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
	"github.com/haolipeng/runpmd/pkg/cmdline/param"
)

func itemEntry(name string, t ItemType, size uintptr, fields ...*param.Param) *Entry {
	return NewEntry(param.NewTerminal(name, int(t), int(size)), fields...)
}

func field(name string, a arg.Arg, offset uintptr) *param.Param {
	return param.NewField(name, a, int(offset))
}

// builtinItems 内置匹配项，字段偏移取自描述符的真实内存布局
func builtinItems() []*Entry {
	var (
		eth  ItemEth
		vlan ItemVlan
		ipv4 ItemIPv4
		udp  ItemUDP
		tcp  ItemTCP
	)

	ethHdr := unsafe.Offsetof(eth.Hdr)
	vlanHdr := unsafe.Offsetof(vlan.Hdr)
	ipv4Hdr := unsafe.Offsetof(ipv4.Hdr)
	udpHdr := unsafe.Offsetof(udp.Hdr)
	tcpHdr := unsafe.Offsetof(tcp.Hdr)

	// 协议字段按网络字节序写入
	be16 := arg.NewIntArgWithOrder[uint16](arg.BigEndian)

	return []*Entry{
		itemEntry("eth", ItemTypeEth, unsafe.Sizeof(eth),
			field("dst", arg.NewEthAddrArg(), ethHdr+unsafe.Offsetof(eth.Hdr.DstAddr)),
			field("src", arg.NewEthAddrArg(), ethHdr+unsafe.Offsetof(eth.Hdr.SrcAddr)),
			field("type", be16, ethHdr+unsafe.Offsetof(eth.Hdr.EtherType)),
		),
		itemEntry("vlan", ItemTypeVlan, unsafe.Sizeof(vlan),
			field("tci", be16, vlanHdr+unsafe.Offsetof(vlan.Hdr.VlanTCI)),
			field("inner_type", be16, vlanHdr+unsafe.Offsetof(vlan.Hdr.EthProto)),
		),
		itemEntry("ipv4", ItemTypeIPv4, unsafe.Sizeof(ipv4),
			field("tos", arg.NewIntArg[uint8](), ipv4Hdr+unsafe.Offsetof(ipv4.Hdr.TypeOfService)),
			field("ttl", arg.NewIntArg[uint8](), ipv4Hdr+unsafe.Offsetof(ipv4.Hdr.TimeToLive)),
			field("next_proto", arg.NewIntArg[uint8](), ipv4Hdr+unsafe.Offsetof(ipv4.Hdr.NextProtoID)),
			field("src", arg.NewIPv4AddrArg(), ipv4Hdr+unsafe.Offsetof(ipv4.Hdr.SrcAddr)),
			field("dst", arg.NewIPv4AddrArg(), ipv4Hdr+unsafe.Offsetof(ipv4.Hdr.DstAddr)),
		),
		itemEntry("udp", ItemTypeUDP, unsafe.Sizeof(udp),
			field("src", be16, udpHdr+unsafe.Offsetof(udp.Hdr.SrcPort)),
			field("dst", be16, udpHdr+unsafe.Offsetof(udp.Hdr.DstPort)),
		),
		itemEntry("tcp", ItemTypeTCP, unsafe.Sizeof(tcp),
			field("src", be16, tcpHdr+unsafe.Offsetof(tcp.Hdr.SrcPort)),
			field("dst", be16, tcpHdr+unsafe.Offsetof(tcp.Hdr.DstPort)),
			field("flags", arg.NewIntArg[uint8](), tcpHdr+unsafe.Offsetof(tcp.Hdr.TCPFlags)),
		),
	}
}

// NewDefaultFlowItems 创建带内置匹配项的注册表
func NewDefaultFlowItems() *FlowItems {
	fi := NewFlowItems()
	for _, e := range builtinItems() {
		fi.Register(e)
	}
	return fi
}
