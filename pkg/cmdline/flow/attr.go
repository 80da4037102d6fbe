package flow

import (
	"unsafe"

	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
	"github.com/haolipeng/runpmd/pkg/cmdline/param"
	"github.com/haolipeng/runpmd/pkg/types"
)

// Domain 规则作用的方向，三者互斥
type Domain uint32

const (
	DomainNone     Domain = 0
	DomainIngress         = Domain(AttrIngress)
	DomainEgress          = Domain(AttrEgress)
	DomainTransfer        = Domain(AttrTransfer)
)

// AttrContext 属性直接写入一个定长记录，没有spec/mask之分
type AttrContext struct {
	state  State
	record arg.ArgData
	domain Domain
	attr   FlowAttr
}

func NewAttrContext() *AttrContext {
	return &AttrContext{
		record: arg.NewArgDataSized(int(unsafe.Sizeof(FlowAttr{}))),
	}
}

func (c *AttrContext) State() State {
	return c.state
}

// Attr 收尾后的属性记录
func (c *AttrContext) Attr() FlowAttr {
	return c.attr
}

// set 覆盖写入字段，重复出现的属性以最后一次为准
func (c *AttrContext) set(src []byte, offset int) error {
	if err := c.record.AndFrom(make([]byte, len(src)), offset); err != nil {
		return err
	}
	return c.record.OrFrom(src, offset)
}

func (c *AttrContext) buildRawAttr() {
	c.attr = flowAttrFromBytes(c.record.Data[:])
	c.attr.Flags &^= AttrIngress | AttrEgress | AttrTransfer
	c.attr.Flags |= uint32(c.domain)
	c.state = StateFinalized
}

// FlowAttributes 属性语法注册表
// 终结选择器表示方向标志（TypeID为标志位），字段叶子写入 FlowAttr 的固定偏移
type FlowAttributes struct {
	params param.Map
}

func NewFlowAttributes() *FlowAttributes {
	fa := &FlowAttributes{
		params: make(param.Map),
	}

	var attr FlowAttr
	for _, p := range []*param.Param{
		param.NewTerminal("ingress", int(DomainIngress), 0),
		param.NewTerminal("egress", int(DomainEgress), 0),
		param.NewTerminal("transfer", int(DomainTransfer), 0),
		param.NewField("group", arg.NewIntArg[uint32](), int(unsafe.Offsetof(attr.Group))),
		param.NewField("priority", arg.NewIntArg[uint32](), int(unsafe.Offsetof(attr.Priority))),
	} {
		fa.Register(p)
	}
	return fa
}

// Register 注册属性关键字，同名关键字后注册的生效
func (fa *FlowAttributes) Register(p *param.Param) {
	fa.params[p.Name] = p
}

func (fa *FlowAttributes) Lookup(name string) (*param.Param, bool) {
	p, ok := fa.params[name]
	return p, ok
}

// ParseAttr 解析属性段，第一个不认识的token结束本段且不被消费
func (fa *FlowAttributes) ParseAttr(toks *cmdline.Tokens) (*AttrContext, error) {
	ctx := NewAttrContext()
	for {
		tok, ok := toks.Peek()
		if !ok {
			break
		}
		p, ok := fa.params[tok]
		if !ok {
			break
		}
		ctx.state = StateAccumulating

		if p.IsTerminal() {
			ctx.domain = Domain(p.TypeID)
			toks.Next()
			continue
		}

		value, ok := toks.PeekAt(1)
		if !ok {
			return nil, types.NewParseError("attr", p.Name, types.ErrInvalidArgument)
		}
		src, err := p.Serialize(value)
		if err != nil {
			return nil, &types.ParseError{Domain: "attr", Token: value, Err: err}
		}
		if err := ctx.set(src, p.Offset); err != nil {
			return nil, &types.ParseError{Domain: "attr", Token: p.Name, Err: err}
		}
		toks.Skip(2)
	}

	ctx.buildRawAttr()
	return ctx, nil
}
