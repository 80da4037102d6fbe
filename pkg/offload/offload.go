package offload

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// Counter count 动作的命中计数
type Counter struct {
	Hits  atomic.Uint64
	Bytes atomic.Uint64
}

// Flow 软件流表中的一条规则
type Flow struct {
	flow.Rule
	Counter Counter
}

// PortChecker 判断端口是否存在
type PortChecker interface {
	Len() int
}

// portTable 一个端口的流表快照，安装后只读
type portTable struct {
	flows  map[uint32]*Flow
	groups map[uint32][]*Flow // 组内按 priority、ID 升序
}

// SoftwareOffload 软件实现的流规则下游
// 控制面修改时重建快照，数据面通过原子指针无锁读取；端口集合在创建时确定
type SoftwareOffload struct {
	mu     sync.Mutex
	nextID map[uint16]uint32
	tables map[uint16]*atomic.Pointer[portTable]
}

func NewSoftwareOffload(ports PortChecker) *SoftwareOffload {
	o := &SoftwareOffload{
		nextID: make(map[uint16]uint32),
		tables: make(map[uint16]*atomic.Pointer[portTable]),
	}
	for i := 0; i < ports.Len(); i++ {
		o.tables[uint16(i)] = &atomic.Pointer[portTable]{}
	}
	return o
}

func rejected(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", types.ErrHardwareRejected, fmt.Sprintf(format, args...))
}

func (o *SoftwareOffload) table(port uint16) (*atomic.Pointer[portTable], error) {
	t, ok := o.tables[port]
	if !ok {
		return nil, rejected("no such port %d", port)
	}
	return t, nil
}

// Validate 检查规则能否被软件流表实现
func Validate(attr flow.FlowAttr, pattern []flow.FlowItem, actions []flow.FlowAction) error {
	dirs := attr.Flags & (flow.AttrIngress | flow.AttrEgress | flow.AttrTransfer)
	if dirs == 0 {
		return rejected("no direction attribute")
	}

	if len(pattern) == 0 || pattern[len(pattern)-1].Type != flow.ItemTypeEnd {
		return rejected("pattern is not terminated")
	}
	for _, item := range pattern[:len(pattern)-1] {
		if _, ok := headerOf[item.Type]; !ok && item.Type != flow.ItemTypeVoid {
			return rejected("unsupported item %s", item.Type)
		}
		if item.Last != nil && item.Spec == nil {
			return rejected("item %s: last without spec", item.Type)
		}
	}

	if len(actions) == 0 || actions[len(actions)-1].Type != flow.ActionTypeEnd {
		return rejected("actions are not terminated")
	}
	for _, action := range actions[:len(actions)-1] {
		switch action.Type {
		case flow.ActionTypeDrop, flow.ActionTypePassthru, flow.ActionTypeCount, flow.ActionTypeVoid,
			flow.ActionTypeQueue, flow.ActionTypeMark, flow.ActionTypePortID, flow.ActionTypeRepresentedPort:
		case flow.ActionTypeJump:
			if decodeJump(action.Conf) <= attr.Group {
				return rejected("jump to group %d from group %d", decodeJump(action.Conf), attr.Group)
			}
		default:
			return rejected("unsupported action %s", action.Type)
		}
	}
	return nil
}

// Create 安装规则，返回端口内的规则号
func (o *SoftwareOffload) Create(port uint16, attr flow.FlowAttr, pattern []flow.FlowItem, actions []flow.FlowAction) (uint32, error) {
	ptr, err := o.table(port)
	if err != nil {
		return 0, err
	}
	if err := Validate(attr, pattern, actions); err != nil {
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextID[port]
	o.nextID[port] = id + 1

	f := &Flow{Rule: flow.Rule{ID: id, Port: port, Attr: attr, Pattern: pattern, Actions: actions}}
	update(ptr, func(flows map[uint32]*Flow) {
		flows[id] = f
	})
	logrus.WithFields(logrus.Fields{"port": port, "flow_id": id, "group": attr.Group, "priority": attr.Priority}).Debug("flow installed")
	return id, nil
}

func (o *SoftwareOffload) Destroy(port uint16, id uint32) error {
	ptr, err := o.table(port)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cur := ptr.Load()
	if cur == nil || cur.flows[id] == nil {
		return rejected("flow %d not found on port %d", id, port)
	}
	update(ptr, func(flows map[uint32]*Flow) {
		delete(flows, id)
	})
	return nil
}

func (o *SoftwareOffload) Flush(port uint16) (int, error) {
	ptr, err := o.table(port)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cur := ptr.Swap(nil)
	if cur == nil {
		return 0, nil
	}
	return len(cur.flows), nil
}

// List 按规则号升序返回
func (o *SoftwareOffload) List(port uint16) ([]flow.Rule, error) {
	flows, err := o.Flows(port)
	if err != nil {
		return nil, err
	}
	rules := make([]flow.Rule, 0, len(flows))
	for _, f := range flows {
		rules = append(rules, f.Rule)
	}
	return rules, nil
}

// Flows 与 List 相同，但带计数器
func (o *SoftwareOffload) Flows(port uint16) ([]*Flow, error) {
	ptr, err := o.table(port)
	if err != nil {
		return nil, err
	}

	cur := ptr.Load()
	if cur == nil {
		return nil, nil
	}
	flows := make([]*Flow, 0, len(cur.flows))
	for _, f := range cur.flows {
		flows = append(flows, f)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].ID < flows[j].ID })
	return flows, nil
}

// update 复制当前快照，修改后整体替换，调用方持有 o.mu
func update(ptr *atomic.Pointer[portTable], mutate func(map[uint32]*Flow)) {
	flows := make(map[uint32]*Flow)
	if cur := ptr.Load(); cur != nil {
		for id, f := range cur.flows {
			flows[id] = f
		}
	}
	mutate(flows)

	next := &portTable{
		flows:  flows,
		groups: make(map[uint32][]*Flow),
	}
	for _, f := range flows {
		next.groups[f.Attr.Group] = append(next.groups[f.Attr.Group], f)
	}
	for _, g := range next.groups {
		sort.Slice(g, func(i, j int) bool {
			if g[i].Attr.Priority != g[j].Attr.Priority {
				return g[i].Attr.Priority < g[j].Attr.Priority
			}
			return g[i].ID < g[j].ID
		})
	}
	ptr.Store(next)
}

// snapshot 数据面读取流表，不加锁
func (o *SoftwareOffload) snapshot(port uint16) *portTable {
	ptr, ok := o.tables[port]
	if !ok {
		return nil
	}
	return ptr.Load()
}
