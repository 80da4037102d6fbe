package offload

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type numPorts int

func (n numPorts) Len() int { return int(n) }

var (
	hostMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	peerMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
)

type frameOpts struct {
	vlan  uint16
	src   string
	dst   string
	sport uint16
	dport uint16
	tcp   bool
}

func buildFrame(t *testing.T, o frameOpts) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: peerMAC, DstMAC: hostMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(o.src).To4(),
		DstIP:    net.ParseIP(o.dst).To4(),
	}

	var stack []gopacket.SerializableLayer
	stack = append(stack, eth)
	if o.vlan != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{VLANIdentifier: o.vlan, Type: layers.EthernetTypeIPv4})
	}
	stack = append(stack, ip)
	if o.tcp {
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{SrcPort: layers.TCPPort(o.sport), DstPort: layers.TCPPort(o.dport), SYN: true, Window: 1024}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		stack = append(stack, tcp)
	} else {
		udp := &layers.UDP{SrcPort: layers.UDPPort(o.sport), DstPort: layers.UDPPort(o.dport)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		stack = append(stack, udp)
	}
	stack = append(stack, gopacket.Payload([]byte("runpmd")))

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, stack...))
	return buf.Bytes()
}

func udpFrame(t *testing.T, dst string, dport uint16) []byte {
	return buildFrame(t, frameOpts{src: "192.168.1.10", dst: dst, sport: 40000, dport: dport})
}

// install 通过 flow 命令模块编译并下发规则
func install(t *testing.T, o *SoftwareOffload, lines ...string) {
	t.Helper()
	cmd := flow.NewFlowCmd(o)
	for _, line := range lines {
		toks := cmdline.Split(line)
		toks.Next()
		_, err := cmd.ParseCmd(toks)
		require.NoError(t, err, line)
	}
}

// TestClassify 测试规则编译后的软件分类结果
func TestClassify(t *testing.T) {
	testCases := []struct {
		name  string
		rules []string
		frame func(t *testing.T) []byte
		want  types.Verdict
	}{
		{
			name:  "没有规则",
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 53) },
			want:  types.Verdict{Fate: types.FatePass},
		},
		{
			name:  "目的地址匹配送队列",
			rules: []string{"flow create 0 ingress pattern eth / ipv4 dst is 10.0.0.1 / end actions queue index 1 / end"},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 53) },
			want:  types.Verdict{Matched: true, Fate: types.FateQueue, Queue: 1},
		},
		{
			name:  "目的地址不匹配",
			rules: []string{"flow create 0 ingress pattern eth / ipv4 dst is 10.0.0.1 / end actions queue index 1 / end"},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.2", 53) },
			want:  types.Verdict{Fate: types.FatePass},
		},
		{
			name: "优先级小的先生效",
			rules: []string{
				"flow create 0 ingress priority 1 pattern ipv4 / end actions queue index 3 / end",
				"flow create 0 ingress priority 0 pattern ipv4 / udp dst is 53 / end actions drop / end",
			},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 53) },
			want:  types.Verdict{Matched: true, FlowID: 1, Fate: types.FateDrop},
		},
		{
			name: "优先级大的规则兜底",
			rules: []string{
				"flow create 0 ingress priority 1 pattern ipv4 / end actions queue index 3 / end",
				"flow create 0 ingress priority 0 pattern ipv4 / udp dst is 53 / end actions drop / end",
			},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 80) },
			want:  types.Verdict{Matched: true, FlowID: 0, Fate: types.FateQueue, Queue: 3},
		},
		{
			name: "跳转到下一组",
			rules: []string{
				"flow create 0 ingress pattern eth / end actions jump group 1 / end",
				"flow create 0 ingress group 1 pattern udp dst is 53 / end actions mark id 7 / queue index 2 / end",
			},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 53) },
			want:  types.Verdict{Matched: true, FlowID: 1, Fate: types.FateQueue, Queue: 2, Mark: 7, Marked: true},
		},
		{
			name: "passthru继续匹配",
			rules: []string{
				"flow create 0 ingress pattern ipv4 / end actions mark id 9 / passthru / end",
				"flow create 0 ingress priority 5 pattern ipv4 / end actions represented_port ethdev_port_id 1 / end",
			},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 53) },
			want:  types.Verdict{Matched: true, FlowID: 1, Fate: types.FatePort, OutPort: 1, Mark: 9, Marked: true},
		},
		{
			name:  "范围匹配命中",
			rules: []string{"flow create 0 ingress pattern udp dst spec 1000 dst last 2000 dst mask 0xffff / end actions drop / end"},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 1500) },
			want:  types.Verdict{Matched: true, Fate: types.FateDrop},
		},
		{
			name:  "范围匹配未命中",
			rules: []string{"flow create 0 ingress pattern udp dst spec 1000 dst last 2000 dst mask 0xffff / end actions drop / end"},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 2500) },
			want:  types.Verdict{Fate: types.FatePass},
		},
		{
			name:  "出方向规则不参与入方向分类",
			rules: []string{"flow create 0 egress pattern eth / end actions drop / end"},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 53) },
			want:  types.Verdict{Fate: types.FatePass},
		},
		{
			name:  "transfer规则在入方向生效",
			rules: []string{"flow create 0 transfer pattern eth dst is 02:00:00:00:00:01 / end actions port_id id 1 / end"},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 53) },
			want:  types.Verdict{Matched: true, Fate: types.FatePort, OutPort: 1},
		},
		{
			name:  "VLAN标签匹配",
			rules: []string{"flow create 0 ingress pattern eth / vlan tci is 100 / ipv4 src is 192.168.1.10 / end actions drop / end"},
			frame: func(t *testing.T) []byte {
				return buildFrame(t, frameOpts{vlan: 100, src: "192.168.1.10", dst: "10.0.0.1", sport: 1, dport: 2})
			},
			want: types.Verdict{Matched: true, Fate: types.FateDrop},
		},
		{
			name:  "TCP标志位掩码匹配",
			rules: []string{"flow create 0 ingress pattern tcp flags spec 0x02 flags mask 0x02 / end actions queue index 4 / end"},
			frame: func(t *testing.T) []byte {
				return buildFrame(t, frameOpts{tcp: true, src: "192.168.1.10", dst: "10.0.0.1", sport: 1234, dport: 80})
			},
			want: types.Verdict{Matched: true, Fate: types.FateQueue, Queue: 4},
		},
		{
			name:  "端口不同不匹配",
			rules: []string{"flow create 1 ingress pattern eth / end actions drop / end"},
			frame: func(t *testing.T) []byte { return udpFrame(t, "10.0.0.1", 53) },
			want:  types.Verdict{Fate: types.FatePass},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := NewSoftwareOffload(numPorts(2))
			install(t, o, tc.rules...)
			got := o.ClassifyFrame(0, DirIngress, tc.frame(t))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyEgressAndCount(t *testing.T) {
	o := NewSoftwareOffload(numPorts(1))
	install(t, o,
		"flow create 0 egress pattern ipv4 / end actions count / drop / end",
	)

	frame := udpFrame(t, "10.0.0.1", 53)
	v := o.ClassifyFrame(0, DirEgress, frame)
	assert.Equal(t, types.FateDrop, v.Fate)
	o.ClassifyFrame(0, DirEgress, frame)

	flows, err := o.Flows(0)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(2), flows[0].Counter.Hits.Load())
	assert.Equal(t, uint64(2*len(frame)), flows[0].Counter.Bytes.Load())
}

// TestCreateRejected 软件流表不支持的规则
func TestCreateRejected(t *testing.T) {
	end := flow.FlowItem{Type: flow.ItemTypeEnd}
	endAction := flow.FlowAction{Type: flow.ActionTypeEnd}
	ingress := flow.FlowAttr{Flags: flow.AttrIngress}

	testCases := []struct {
		name    string
		port    uint16
		attr    flow.FlowAttr
		pattern []flow.FlowItem
		actions []flow.FlowAction
	}{
		{"端口不存在", 4, ingress, []flow.FlowItem{end}, []flow.FlowAction{endAction}},
		{"没有方向", 0, flow.FlowAttr{}, []flow.FlowItem{end}, []flow.FlowAction{endAction}},
		{"不支持的匹配项", 0, ingress, []flow.FlowItem{{Type: flow.ItemTypeIPv6}, end}, []flow.FlowAction{endAction}},
		{"不支持的动作", 0, ingress, []flow.FlowItem{end}, []flow.FlowAction{{Type: flow.ActionTypeRSS}, endAction}},
		{"pattern没有结束标记", 0, ingress, []flow.FlowItem{{Type: flow.ItemTypeEth}}, []flow.FlowAction{endAction}},
		{"actions没有结束标记", 0, ingress, []flow.FlowItem{end}, nil},
		{"向前跳转", 0, flow.FlowAttr{Group: 2, Flags: flow.AttrIngress}, []flow.FlowItem{end},
			[]flow.FlowAction{{Type: flow.ActionTypeJump, Conf: (&flow.FlowAttr{Group: 1}).Bytes()[:4]}, endAction}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := NewSoftwareOffload(numPorts(1))
			_, err := o.Create(tc.port, tc.attr, tc.pattern, tc.actions)
			assert.ErrorIs(t, err, types.ErrHardwareRejected)
		})
	}
}

func TestDestroyFlushList(t *testing.T) {
	o := NewSoftwareOffload(numPorts(2))
	install(t, o,
		"flow create 0 ingress pattern eth / end actions drop / end",
		"flow create 0 ingress pattern ipv4 / end actions drop / end",
		"flow create 1 ingress pattern eth / end actions drop / end",
	)

	rules, err := o.List(0)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, uint32(0), rules[0].ID)
	assert.Equal(t, uint32(1), rules[1].ID)

	require.NoError(t, o.Destroy(0, 0))
	assert.ErrorIs(t, o.Destroy(0, 0), types.ErrHardwareRejected)

	rules, _ = o.List(0)
	require.Len(t, rules, 1)
	assert.Equal(t, uint32(1), rules[0].ID)

	n, err := o.Flush(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rules, _ = o.List(0)
	assert.Empty(t, rules)

	// 规则号不复用
	install(t, o, "flow create 0 ingress pattern eth / end actions drop / end")
	rules, _ = o.List(0)
	assert.Equal(t, uint32(2), rules[0].ID)

	rules, _ = o.List(1)
	assert.Len(t, rules, 1)

	_, err = o.List(9)
	assert.ErrorIs(t, err, types.ErrHardwareRejected)
}

func TestMatchItem(t *testing.T) {
	hdr := []byte{0x12, 0x34}

	assert.True(t, matchItem(flow.FlowItem{}, hdr))
	assert.True(t, matchItem(flow.FlowItem{Spec: []byte{0x12, 0x00}, Mask: []byte{0xff, 0x00}}, hdr))
	assert.False(t, matchItem(flow.FlowItem{Spec: []byte{0x12, 0x00}, Mask: []byte{0xff, 0xff}}, hdr))
	// 头部比描述符短的部分按0比较
	assert.True(t, matchItem(flow.FlowItem{Spec: []byte{0x12, 0x34, 0x00}, Mask: []byte{0xff, 0xff, 0xff}}, hdr))
}

func compileItem(t *testing.T, line string) flow.FlowItem {
	t.Helper()
	ctx, err := flow.NewDefaultFlowItems().ParsePattern(cmdline.Split(line))
	require.NoError(t, err)
	require.Equal(t, flow.StateFinalized, ctx.State())
	return ctx.Pattern()[0]
}

func udpHeader(src, dst uint16) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint16(b[0:], src)
	binary.BigEndian.PutUint16(b[2:], dst)
	return b
}

// TestMatchItemRangePerField 多个字段的范围匹配各自独立比较
func TestMatchItemRangePerField(t *testing.T) {
	twoRanges := compileItem(t, "udp src spec 1 src last 5 src mask 0xffff dst spec 100 dst last 200 dst mask 0xffff / end")
	rangeAndExact := compileItem(t, "udp src is 7 dst spec 100 dst last 200 dst mask 0xffff / end")

	tests := []struct {
		name string
		item flow.FlowItem
		src  uint16
		dst  uint16
		want bool
	}{
		{"两个字段都在范围内", twoRanges, 3, 150, true},
		{"范围下界", twoRanges, 1, 100, true},
		{"范围上界", twoRanges, 5, 200, true},
		{"第二个字段超出上界", twoRanges, 3, 999, false},
		{"第二个字段低于下界", twoRanges, 3, 99, false},
		{"第一个字段超出上界", twoRanges, 6, 150, false},
		{"精确字段匹配且范围上界", rangeAndExact, 7, 200, true},
		{"精确字段匹配且范围内", rangeAndExact, 7, 150, true},
		{"精确字段不匹配", rangeAndExact, 8, 150, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchItem(tt.item, udpHeader(tt.src, tt.dst)))
		})
	}
}
