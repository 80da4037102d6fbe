package flow

import (
	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
	"github.com/haolipeng/runpmd/pkg/cmdline/param"
	"github.com/haolipeng/runpmd/pkg/types"
)

// 匹配字段修饰符
const (
	ModifierIs   = "is"
	ModifierSpec = "spec"
	ModifierMask = "mask"
	ModifierLast = "last"
)

// ItemData 一个匹配项的 spec/mask/last 三个缓冲区
type ItemData struct {
	Spec    arg.ArgData
	Mask    arg.ArgData
	Last    arg.ArgData
	Fields  []FieldSpan
	lastSet bool
}

func NewItemData() *ItemData {
	return &ItemData{}
}

func (d *ItemData) SpecMod(src []byte, offset int) error {
	return d.Spec.OrFrom(src, offset)
}

func (d *ItemData) MaskMod(src []byte, offset int) error {
	return d.Mask.OrFrom(src, offset)
}

func (d *ItemData) LastMod(src []byte, offset int) error {
	d.lastSet = true
	return d.Last.OrFrom(src, offset)
}

// IsMod 精确匹配：值写入spec，同宽度的全1写入mask
func (d *ItemData) IsMod(src []byte, offset int) error {
	if err := d.SpecMod(src, offset); err != nil {
		return err
	}
	return d.MaskMod(arg.DefaultMask[:len(src)], offset)
}

// Apply 按修饰符写入，并记录字段位置
func (d *ItemData) Apply(modifier string, src []byte, offset int) error {
	var err error
	switch modifier {
	case ModifierIs:
		err = d.IsMod(src, offset)
	case ModifierSpec:
		err = d.SpecMod(src, offset)
	case ModifierMask:
		err = d.MaskMod(src, offset)
	case ModifierLast:
		err = d.LastMod(src, offset)
	default:
		return types.ErrInvalidArgument
	}
	if err != nil {
		return err
	}
	d.addField(offset, len(src))
	return nil
}

func (d *ItemData) addField(offset, size int) {
	for _, f := range d.Fields {
		if f.Offset == offset && f.Size == size {
			return
		}
	}
	d.Fields = append(d.Fields, FieldSpan{Offset: offset, Size: size})
}

type parsedItem struct {
	itype ItemType
	size  int
	data  *ItemData
}

// ItemsParserContext 一条命令的匹配项解析上下文，每条命令新建一个
type ItemsParserContext struct {
	state State
	id    ItemType
	size  int
	data  *ItemData
	items []parsedItem
	raw   []FlowItem
}

func NewItemsParserContext() *ItemsParserContext {
	return &ItemsParserContext{
		id: ItemTypeEnd,
	}
}

func (c *ItemsParserContext) State() State {
	return c.state
}

// Pattern 收尾后的匹配项数组，以END结尾
func (c *ItemsParserContext) Pattern() []FlowItem {
	return c.raw
}

// selectTerminal 选中新匹配项前先收起上一个匹配项
func (c *ItemsParserContext) selectTerminal(p *param.Param) {
	c.push()
	c.state = StateAccumulating
	c.id = ItemType(p.TypeID)
	c.size = p.Size
	c.data = nil
}

func (c *ItemsParserContext) applyField(p *param.Param, toks *cmdline.Tokens) error {
	modifier, ok := toks.PeekAt(1)
	if !ok {
		return types.NewParseError("pattern", p.Name, types.ErrInvalidArgument)
	}
	value, ok := toks.PeekAt(2)
	if !ok {
		return types.NewParseError("pattern", p.Name+" "+modifier, types.ErrInvalidArgument)
	}
	switch modifier {
	case ModifierIs, ModifierSpec, ModifierMask, ModifierLast:
	default:
		return types.NewParseError("pattern", modifier, types.ErrInvalidArgument)
	}

	src, err := p.Serialize(value)
	if err != nil {
		return &types.ParseError{Domain: "pattern", Token: value, Err: err}
	}
	if c.data == nil {
		c.data = NewItemData()
	}
	if err := c.data.Apply(modifier, src, p.Offset); err != nil {
		return &types.ParseError{Domain: "pattern", Token: p.Name, Err: err}
	}
	toks.Skip(3)
	return nil
}

// push 把当前匹配项放入列表并清空工作状态
func (c *ItemsParserContext) push() {
	if c.state == StateAccumulating && c.id != ItemTypeEnd {
		c.items = append(c.items, parsedItem{itype: c.id, size: c.size, data: c.data})
	}
	c.flush()
}

func (c *ItemsParserContext) flush() {
	c.id = ItemTypeEnd
	c.size = 0
	c.data = nil
}

func (c *ItemsParserContext) separator() {
	c.push()
	c.state = StateAccumulating
}

func (c *ItemsParserContext) end() {
	c.push()
	c.items = append(c.items, parsedItem{itype: ItemTypeEnd})
	c.buildRawPattern()
	c.state = StateFinalized
}

// buildRawPattern 生成连续的匹配项数组，未设置任何字段的匹配项 spec/mask/last 为nil
func (c *ItemsParserContext) buildRawPattern() {
	c.raw = make([]FlowItem, 0, len(c.items))
	for _, item := range c.items {
		raw := FlowItem{Type: item.itype}
		if item.data != nil {
			raw.Spec = clone(item.data.Spec.Data[:item.size])
			raw.Mask = clone(item.data.Mask.Data[:item.size])
			if item.data.lastSet {
				raw.Last = clone(item.data.Last.Data[:item.size])
			}
			raw.Fields = append([]FieldSpan(nil), item.data.Fields...)
		}
		c.raw = append(c.raw, raw)
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// FlowItems 匹配项语法注册表
// 内置条目在启动时注册，之后只读；解析期间不允许修改注册表
type FlowItems struct {
	entries map[string]*Entry
}

func NewFlowItems() *FlowItems {
	fi := &FlowItems{
		entries: make(map[string]*Entry),
	}
	fi.Register(newEndEntry())
	fi.Register(newSeparatorEntry())
	return fi
}

// Register 注册匹配项，同名条目后注册的生效
func (fi *FlowItems) Register(e *Entry) {
	fi.entries[e.Name()] = e
}

// Lookup 按名字查找条目
func (fi *FlowItems) Lookup(name string) (*Entry, bool) {
	e, ok := fi.entries[name]
	return e, ok
}

// ParsePattern 解析 pattern 段，返回本次命令的解析上下文
func (fi *FlowItems) ParsePattern(toks *cmdline.Tokens) (*ItemsParserContext, error) {
	ctx := NewItemsParserContext()
	if err := parseDomain(fi.entries, ctx, toks); err != nil {
		return nil, err
	}
	return ctx, nil
}
