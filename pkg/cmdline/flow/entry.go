package flow

import (
	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/param"
)

const (
	SeparatorKeyword = "/"
	EndKeyword       = "end"
)

type control uint8

const (
	controlNone control = iota
	controlSeparator
	controlEnd
)

// Entry 一个语法层级：终结选择器加上它的字段叶子表
type Entry struct {
	name   string
	ctrl   control
	Cmd    *param.Param
	Params param.Map
}

// NewEntry 创建复合条目，cmd 必须是终结选择器，params 必须是字段叶子
func NewEntry(cmd *param.Param, params ...*param.Param) *Entry {
	if !cmd.IsTerminal() {
		panic("flow: entry command must be a terminal selector: " + cmd.Name)
	}
	e := &Entry{
		name: cmd.Name,
		Cmd:  cmd,
	}
	if len(params) > 0 {
		for _, p := range params {
			if !p.IsField() {
				panic("flow: entry parameter must be a field leaf: " + p.Name)
			}
		}
		e.Params = param.NewMap(params...)
	}
	return e
}

func newSeparatorEntry() *Entry {
	return &Entry{name: SeparatorKeyword, ctrl: controlSeparator}
}

func newEndEntry() *Entry {
	return &Entry{name: EndKeyword, ctrl: controlEnd}
}

func (e *Entry) Name() string {
	return e.name
}

// State 解析上下文的状态
type State uint8

const (
	StateUnstarted State = iota
	StateAccumulating
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateAccumulating:
		return "accumulating"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// domainContext 匹配项和动作两个语法域的解析上下文
type domainContext interface {
	selectTerminal(p *param.Param)
	// applyField 消费字段叶子对应的全部token
	applyField(p *param.Param, toks *cmdline.Tokens) error
	separator()
	end()
}

// parseDomain 驱动一个语法域的token循环
// 遇到未注册的关键字时停止，不消费该token；遇到end时收尾并返回
func parseDomain(entries map[string]*Entry, ctx domainContext, toks *cmdline.Tokens) error {
	for {
		tok, ok := toks.Peek()
		if !ok {
			return nil
		}
		entry, ok := entries[tok]
		if !ok {
			return nil
		}
		toks.Next()

		switch entry.ctrl {
		case controlSeparator:
			ctx.separator()
			continue
		case controlEnd:
			ctx.end()
			return nil
		}

		ctx.selectTerminal(entry.Cmd)
		for {
			tok, ok := toks.Peek()
			if !ok {
				break
			}
			p, ok := entry.Params[tok]
			if !ok {
				break
			}
			if err := ctx.applyField(p, toks); err != nil {
				return err
			}
		}
	}
}
