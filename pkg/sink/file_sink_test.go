package sink

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/runpmd/pkg/config"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readPcap(t *testing.T, filename string) [][]byte {
	t.Helper()
	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)

	var frames [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		frames = append(frames, data)
	}
	return frames
}

func TestPcapWriterRotate(t *testing.T) {
	base := filepath.Join(t.TempDir(), "port0")
	w, err := NewPcapWriter(base, 100)
	require.NoError(t, err)

	frame := make([]byte, 60)
	for i := 0; i < 3; i++ {
		frame[0] = byte(i)
		require.NoError(t, w.WritePacket(&types.Packet{RawData: append([]byte(nil), frame...), Timestamp: time.Now().UnixNano()}))
	}
	require.NoError(t, w.Close())
	assert.Error(t, w.WritePacket(&types.Packet{RawData: frame}))

	files, err := filepath.Glob(base + "_*.pcap")
	require.NoError(t, err)
	// 每个文件写满100字节后切换：60+60, 60
	require.Len(t, files, 2)

	var total int
	for _, f := range files {
		total += len(readPcap(t, f))
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, uint64(3), w.Stats().PacketsWritten)
	assert.Equal(t, uint64(180), w.Stats().BytesWritten)
}

type recordWriter struct {
	mu      sync.Mutex
	packets []string
}

func (r *recordWriter) WritePacket(p *types.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, p.ID)
	return nil
}

func TestPortSink(t *testing.T) {
	ports, err := port.Open(port.NewDriverRegistry(), []config.PortConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	require.NoError(t, err)

	w0, w1 := &recordWriter{}, &recordWriter{}
	txPort := func(p *types.Packet) uint16 {
		if p.Verdict != nil && p.Verdict.Fate == types.FatePort {
			return p.Verdict.OutPort
		}
		return p.Port
	}
	s := NewPortSink("port0", ports, map[uint16]PacketWriter{0: w0, 1: w1}, txPort)

	in := make(chan *types.Packet, 8)
	in <- &types.Packet{ID: "local", Port: 0, Verdict: &types.Verdict{Fate: types.FatePass}}
	in <- &types.Packet{ID: "dropped", Port: 0, Verdict: &types.Verdict{Fate: types.FateDrop}}
	in <- &types.Packet{ID: "fwd", Port: 0, Verdict: &types.Verdict{Fate: types.FatePort, OutPort: 1}}
	in <- &types.Packet{ID: "nowhere", Port: 0, Verdict: &types.Verdict{Fate: types.FatePort, OutPort: 2}}
	in <- &types.Packet{ID: "unknown", Port: 0, Verdict: &types.Verdict{Fate: types.FatePort, OutPort: 9}}
	in <- &types.Packet{ID: "raw", Port: 0}
	close(in)

	require.NoError(t, s.Consume(context.Background(), in))
	select {
	case <-s.Ready():
	default:
		t.Fatal("sink not ready")
	}

	assert.Equal(t, []string{"local", "raw"}, w0.packets)
	assert.Equal(t, []string{"fwd"}, w1.packets)

	p0, _ := ports.Get(0)
	p1, _ := ports.Get(1)
	p2, _ := ports.Get(2)
	assert.Equal(t, uint64(2), p0.Stats.TxPackets.Load())
	assert.Equal(t, uint64(1), p1.Stats.TxPackets.Load())
	assert.Equal(t, uint64(1), p2.Stats.TxPackets.Load())
}
