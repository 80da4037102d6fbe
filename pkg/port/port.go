package port

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/haolipeng/runpmd/pkg/config"
	"github.com/sirupsen/logrus"
)

// Stats 端口收发计数，数据面goroutine更新，控制面读取
type Stats struct {
	RxPackets atomic.Uint64
	TxPackets atomic.Uint64
	Dropped   atomic.Uint64
}

// Port 一个已初始化的端口
type Port struct {
	ID     uint16
	Name   string
	Driver string
	MAC    net.HardwareAddr
	Conf   config.PortConfig

	promisc atomic.Bool
	Stats   Stats
}

func (p *Port) Promiscuous() bool {
	return p.promisc.Load()
}

func (p *Port) SetPromiscuous(on bool) {
	p.promisc.Store(on)
}

// Accept 非混杂模式下只接收目的MAC为本端口、广播或组播的帧
func (p *Port) Accept(dst net.HardwareAddr) bool {
	if p.Promiscuous() || len(p.MAC) == 0 || len(dst) == 0 {
		return true
	}
	if dst[0]&0x01 != 0 {
		return true
	}
	return bytes.Equal(dst, p.MAC)
}

// InitFunc 驱动初始化函数，返回错误时回退到raw驱动
type InitFunc func(id uint16, conf config.PortConfig) (*Port, error)

// RawDriver 兜底驱动名
const RawDriver = "raw"

// DriverRegistry 驱动注册表，启动时显式构造并注册，之后只读
type DriverRegistry struct {
	drivers map[string]InitFunc
}

// NewDriverRegistry 创建只包含raw驱动的注册表
func NewDriverRegistry() *DriverRegistry {
	r := &DriverRegistry{drivers: make(map[string]InitFunc)}
	r.Register(RawDriver, initRaw)
	return r
}

// Register 注册驱动，同名驱动后注册的生效
func (r *DriverRegistry) Register(name string, fn InitFunc) {
	r.drivers[name] = fn
}

// Init 按配置的驱动初始化端口，驱动不存在或初始化失败时回退到raw
func (r *DriverRegistry) Init(id uint16, conf config.PortConfig) (*Port, error) {
	if fn, ok := r.drivers[conf.Driver]; ok && conf.Driver != RawDriver {
		p, err := fn(id, conf)
		if err == nil {
			return p, nil
		}
		logrus.WithFields(logrus.Fields{"port": id, "driver": conf.Driver}).WithError(err).Warn("driver init failed")
	}
	if conf.Driver != RawDriver {
		logrus.WithField("port", id).Infof("port %d: fallback to raw port", id)
	}
	return r.drivers[RawDriver](id, conf)
}

func initRaw(id uint16, conf config.PortConfig) (*Port, error) {
	p := &Port{
		ID:     id,
		Name:   conf.Name,
		Driver: RawDriver,
		Conf:   conf,
	}
	if conf.MAC != "" {
		mac, err := net.ParseMAC(conf.MAC)
		if err != nil {
			return nil, fmt.Errorf("invalid mac %q: %w", conf.MAC, err)
		}
		p.MAC = mac
	}
	p.SetPromiscuous(conf.Promiscuous)
	return p, nil
}

// Table 端口表，端口号即下标
type Table struct {
	mu    sync.RWMutex
	ports []*Port
}

func NewTable() *Table {
	return &Table{}
}

// Open 按配置顺序初始化全部端口
func Open(reg *DriverRegistry, confs []config.PortConfig) (*Table, error) {
	t := NewTable()
	for i, conf := range confs {
		p, err := reg.Init(uint16(i), conf)
		if err != nil {
			return nil, fmt.Errorf("port %d: %w", i, err)
		}
		t.Add(p)
	}
	return t, nil
}

// Add 追加端口，端口号为当前端口数
func (t *Table) Add(p *Port) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.ID = uint16(len(t.ports))
	t.ports = append(t.ports, p)
}

func (t *Table) Get(id uint16) (*Port, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.ports) {
		return nil, false
	}
	return t.ports[id], true
}

func (t *Table) All() []*Port {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Port, len(t.ports))
	copy(out, t.ports)
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ports)
}

// Summary 端口概览
func Summary(ports []*Port) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s    %-32s %-14s", "Port", "Name", "Driver")
	for _, p := range ports {
		fmt.Fprintf(&b, "\n%-4d    %-32s %-14s", p.ID, p.Name, p.Driver)
	}
	return b.String()
}

// Info 单个端口的详细信息
func Info(p *Port) string {
	promisc := "disabled"
	if p.Promiscuous() {
		promisc = "enabled"
	}
	mac := "none"
	if len(p.MAC) > 0 {
		mac = p.MAC.String()
	}
	return fmt.Sprintf("Port %d (%s)\n  Driver: %s\n  MAC address: %s\n  Promiscuous mode: %s\n  RX-packets: %d TX-packets: %d RX-dropped: %d",
		p.ID, p.Name, p.Driver, mac, promisc,
		p.Stats.RxPackets.Load(), p.Stats.TxPackets.Load(), p.Stats.Dropped.Load())
}
