package test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/runpmd/pkg/app"
	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
	"github.com/haolipeng/runpmd/pkg/config"
	"github.com/haolipeng/runpmd/pkg/offload"
	"github.com/haolipeng/runpmd/pkg/pipeline"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/processor"
	"github.com/haolipeng/runpmd/pkg/source"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hostMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	peerMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
)

// 每个报文的UDP目的端口决定它命中哪条规则
var dports = []uint16{53, 9, 80, 81, 1000}

var ruleLines = []string{
	"flow create 0 ingress pattern eth / ipv4 / udp dst is 53 / end actions count / queue index 1 / end",
	"flow create 0 ingress pattern udp dst is 9 / end actions drop / end",
	"flow create 0 ingress pattern udp dst is 80 / end actions port_id id 1 / end",
	"flow create 0 ingress pattern udp dst is 81 / end actions port_id id 1 / end",
	"flow create 1 egress pattern udp dst is 81 / end actions drop / end",
}

func udpFrame(t *testing.T, dport uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: peerMAC, DstMAC: hostMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 0, 1).To4(),
		DstIP:    net.IPv4(10, 0, 0, 1).To4(),
	}
	udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip, udp, gopacket.Payload([]byte("runpmd end to end payload"))))
	return buf.Bytes()
}

func writePcap(t *testing.T, w *bytes.Buffer) {
	t.Helper()
	pw := pcapgo.NewWriter(w)
	require.NoError(t, pw.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, dport := range dports {
		frame := udpFrame(t, dport)
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*1000),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, pw.WritePacket(ci, frame))
	}
}

func readDports(t *testing.T, pattern string) []uint16 {
	t.Helper()
	files, err := filepath.Glob(pattern)
	require.NoError(t, err)
	require.Len(t, files, 1, pattern)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)

	var out []uint16
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			return out
		}
		pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		require.True(t, ok)
		out = append(out, uint16(udp.DstPort))
	}
}

// TestPipelineVerdicts pcap输入经过入方向和出方向分类后的结果
func TestPipelineVerdicts(t *testing.T) {
	ports, err := port.Open(port.NewDriverRegistry(), []config.PortConfig{
		{Name: "port0", MAC: hostMAC.String()},
		{Name: "port1"},
	})
	require.NoError(t, err)

	o := offload.NewSoftwareOffload(ports)
	cmd := cmdline.New()
	cmd.Register("flow", flow.NewFlowCmd(o))
	for _, line := range ruleLines {
		_, err := cmd.Run(line)
		require.NoError(t, err, line)
	}

	var buf bytes.Buffer
	writePcap(t, &buf)

	p0, _ := ports.Get(0)
	src, err := source.NewPcapReaderSource(&buf, p0, 4)
	require.NoError(t, err)

	sink := NewMemorySink()
	pl := pipeline.NewPipeline("port0")
	pl.SetSource(src)
	require.NoError(t, pl.AddProcessor(processor.NewEgressClassifier(o, ports, "port0", 4)))
	require.NoError(t, pl.AddProcessor(processor.NewFlowClassifier(o, p0, 4)))
	pl.SetSink(sink)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pl.Start(ctx))
	pl.Wait()
	require.NoError(t, pl.Stop())
	assert.Equal(t, "stopped", pl.Status())

	results := sink.GetResults()
	require.Len(t, results, len(dports))

	want := []types.Verdict{
		{FlowID: 0, Matched: true, Fate: types.FateQueue, Queue: 1},
		{FlowID: 1, Matched: true, Fate: types.FateDrop},
		{FlowID: 2, Matched: true, Fate: types.FatePort, OutPort: 1},
		{FlowID: 3, Matched: true, Fate: types.FateDrop, OutPort: 1},
		{Fate: types.FatePass},
	}
	for i, pkt := range results {
		assert.Equal(t, uint16(0), pkt.Port)
		assert.Equal(t, want[i], *pkt.Verdict, "dport %d", dports[i])
	}
	require.NotNil(t, results[3].Egress)
	assert.Equal(t, uint32(0), results[3].Egress.FlowID)
	assert.Equal(t, time.Unix(1700000000, 0).UnixNano(), results[0].Timestamp)

	flows, err := o.Flows(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), flows[0].Counter.Hits.Load())
	assert.Equal(t, uint64(5), p0.Stats.RxPackets.Load())

	stats := pl.GetStats()
	assert.Equal(t, "stopped", stats["status"])
	assert.Len(t, pl.GetMetrics(), 2)
}

// TestAppEndToEnd 启动脚本下发规则，pcap文件输入，按端口写出pcap文件
func TestAppEndToEnd(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	writePcap(t, &buf)
	input := filepath.Join(dir, "port0.pcap")
	require.NoError(t, os.WriteFile(input, buf.Bytes(), 0o644))

	scriptDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(scriptDir, 0o755))
	script := "state: enable\nrule_id: e2e\nport: 0\ncommands:\n"
	for _, line := range ruleLines {
		script += "  - " + line + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(scriptDir, "10-e2e.yaml"), []byte(script), 0o644))

	cfg := config.Default()
	cfg.Control.ScriptDir = scriptDir
	cfg.Ports = []config.PortConfig{
		{Name: "port0", Driver: "raw", Promiscuous: true, Input: input, Output: filepath.Join(dir, "out", "port0"), L2Swap: true},
		{Name: "port1", Driver: "raw", Output: filepath.Join(dir, "out", "port1")},
	}

	a, err := app.New(cfg, port.NewDriverRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.StartControl(ctx))
	require.NoError(t, a.StartDataPlane(ctx))
	a.WaitDataPlane()

	out, err := a.Loop.Submit(ctx, "flow list 0 where \"count\" in flow.actions")
	require.NoError(t, err)
	assert.Equal(t, "ID\tGroup\tPrio\tAttr\tRule\n0\t0\t0\ti--\tETH IPV4 UDP => COUNT QUEUE", out)

	out, err = a.Loop.Submit(ctx, "port show 0 promisc")
	require.NoError(t, err)
	assert.Equal(t, "Port 0 promiscuous mode: on", out)

	cancel()
	a.Shutdown()

	assert.Equal(t, []uint16{53, 1000}, readDports(t, filepath.Join(dir, "out", "port0_*.pcap")))
	assert.Equal(t, []uint16{80}, readDports(t, filepath.Join(dir, "out", "port1_*.pcap")))

	p0, _ := a.Ports.Get(0)
	p1, _ := a.Ports.Get(1)
	assert.Equal(t, uint64(5), p0.Stats.RxPackets.Load())
	assert.Equal(t, uint64(2), p0.Stats.TxPackets.Load())
	assert.Equal(t, uint64(1), p0.Stats.Dropped.Load())
	assert.Equal(t, uint64(1), p1.Stats.TxPackets.Load())
}
