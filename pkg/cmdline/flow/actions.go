package flow

import (
	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
	"github.com/haolipeng/runpmd/pkg/cmdline/param"
	"github.com/haolipeng/runpmd/pkg/types"
)

type parsedAction struct {
	atype ActionType
	size  int
	data  *arg.ArgData
}

// ActionsParserContext 一条命令的动作解析上下文，只有一个工作缓冲区
type ActionsParserContext struct {
	state   State
	id      ActionType
	size    int
	pending bool
	data    *arg.ArgData
	actions []parsedAction
	raw     []FlowAction
}

func NewActionsParserContext() *ActionsParserContext {
	return &ActionsParserContext{
		id: ActionTypeEnd,
	}
}

func (c *ActionsParserContext) State() State {
	return c.state
}

// Actions 收尾后的动作数组，以END结尾
func (c *ActionsParserContext) Actions() []FlowAction {
	return c.raw
}

// selectTerminal 选中新动作前先收起上一个动作
func (c *ActionsParserContext) selectTerminal(p *param.Param) {
	c.push()
	c.state = StateAccumulating
	c.id = ActionType(p.TypeID)
	c.size = p.Size
	c.pending = true
	if p.Size > 0 {
		d := arg.NewArgDataSized(p.Size)
		c.data = &d
	}
}

// applyField 动作字段只有 [name, value] 两个token
func (c *ActionsParserContext) applyField(p *param.Param, toks *cmdline.Tokens) error {
	value, ok := toks.PeekAt(1)
	if !ok {
		return types.NewParseError("actions", p.Name, types.ErrInvalidArgument)
	}
	src, err := p.Serialize(value)
	if err != nil {
		return &types.ParseError{Domain: "actions", Token: value, Err: err}
	}
	if c.data == nil {
		d := arg.NewArgDataSized(c.size)
		c.data = &d
	}
	if err := c.data.OrFrom(src, p.Offset); err != nil {
		return &types.ParseError{Domain: "actions", Token: p.Name, Err: err}
	}
	toks.Skip(2)
	return nil
}

func (c *ActionsParserContext) push() {
	if c.pending {
		c.actions = append(c.actions, parsedAction{atype: c.id, size: c.size, data: c.data})
	}
	c.id = ActionTypeEnd
	c.size = 0
	c.pending = false
	c.data = nil
}

// separator 动作之间的 "/" 只为和pattern语法对称，不做任何处理
func (c *ActionsParserContext) separator() {}

func (c *ActionsParserContext) end() {
	c.push()
	c.actions = append(c.actions, parsedAction{atype: ActionTypeEnd})
	c.buildRawActions()
	c.state = StateFinalized
}

func (c *ActionsParserContext) buildRawActions() {
	c.raw = make([]FlowAction, 0, len(c.actions))
	for _, action := range c.actions {
		raw := FlowAction{Type: action.atype}
		if action.data != nil {
			raw.Conf = clone(action.data.Data[:action.size])
		}
		c.raw = append(c.raw, raw)
	}
}

// FlowActions 动作语法注册表，启动后只读
type FlowActions struct {
	entries map[string]*Entry
}

func NewFlowActions() *FlowActions {
	fa := &FlowActions{
		entries: make(map[string]*Entry),
	}
	fa.Register(newEndEntry())
	fa.Register(newSeparatorEntry())
	return fa
}

// Register 注册动作，同名条目后注册的生效
func (fa *FlowActions) Register(e *Entry) {
	fa.entries[e.Name()] = e
}

func (fa *FlowActions) Lookup(name string) (*Entry, bool) {
	e, ok := fa.entries[name]
	return e, ok
}

// ParseActions 解析 actions 段
func (fa *FlowActions) ParseActions(toks *cmdline.Tokens) (*ActionsParserContext, error) {
	ctx := NewActionsParserContext()
	if err := parseDomain(fa.entries, ctx, toks); err != nil {
		return nil, err
	}
	return ctx, nil
}
