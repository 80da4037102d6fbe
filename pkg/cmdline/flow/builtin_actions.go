package flow

import (
	"unsafe"

	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
	"github.com/haolipeng/runpmd/pkg/cmdline/param"
)

func actionEntry(name string, t ActionType, size uintptr, fields ...*param.Param) *Entry {
	return NewEntry(param.NewTerminal(name, int(t), int(size)), fields...)
}

func builtinActions() []*Entry {
	var (
		queue  ActionQueue
		mark   ActionMark
		jump   ActionJump
		count  ActionCount
		portID ActionPortID
		ethdev ActionEthdev
	)

	return []*Entry{
		actionEntry("drop", ActionTypeDrop, 0),
		actionEntry("passthru", ActionTypePassthru, 0),
		actionEntry("count", ActionTypeCount, unsafe.Sizeof(count),
			field("id", arg.NewIntArg[uint32](), unsafe.Offsetof(count.ID)),
		),
		actionEntry("queue", ActionTypeQueue, unsafe.Sizeof(queue),
			field("index", arg.NewIntArg[uint16](), unsafe.Offsetof(queue.Index)),
		),
		actionEntry("mark", ActionTypeMark, unsafe.Sizeof(mark),
			field("id", arg.NewIntArg[uint32](), unsafe.Offsetof(mark.ID)),
		),
		actionEntry("jump", ActionTypeJump, unsafe.Sizeof(jump),
			field("group", arg.NewIntArg[uint32](), unsafe.Offsetof(jump.Group)),
		),
		actionEntry("port_id", ActionTypePortID, unsafe.Sizeof(portID),
			field("id", arg.NewIntArg[uint32](), unsafe.Offsetof(portID.ID)),
		),
		actionEntry("represented_port", ActionTypeRepresentedPort, unsafe.Sizeof(ethdev),
			field("ethdev_port_id", arg.NewIntArg[uint16](), unsafe.Offsetof(ethdev.PortID)),
		),
	}
}

// NewDefaultFlowActions 创建带内置动作的注册表
func NewDefaultFlowActions() *FlowActions {
	fa := NewFlowActions()
	for _, e := range builtinActions() {
		fa.Register(e)
	}
	return fa
}
