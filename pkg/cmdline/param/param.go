package param

import (
	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
)

// Kind 语法节点类型
type Kind uint8

const (
	// KindTerminal 终结选择器：选中一个描述符类型并声明其大小
	KindTerminal Kind = iota + 1
	// KindField 字段叶子：把参数序列化后写入描述符的固定偏移
	KindField
)

// Param 一个注册的关键字，Terminal 和 Field 二选一
type Param struct {
	Name string
	Kind Kind

	// KindTerminal
	TypeID int
	Size   int

	// KindField
	Arg    arg.Arg
	Offset int
}

// NewTerminal 创建终结选择器节点
func NewTerminal(name string, typeID int, size int) *Param {
	return &Param{
		Name:   name,
		Kind:   KindTerminal,
		TypeID: typeID,
		Size:   size,
	}
}

// NewField 创建字段叶子节点
func NewField(name string, a arg.Arg, offset int) *Param {
	return &Param{
		Name:   name,
		Kind:   KindField,
		Arg:    a,
		Offset: offset,
	}
}

func (p *Param) IsTerminal() bool {
	return p.Kind == KindTerminal
}

func (p *Param) IsField() bool {
	return p.Kind == KindField
}

// Serialize 序列化字段值，返回有效字节
func (p *Param) Serialize(sample string) ([]byte, error) {
	data, err := p.Arg.Serialize(sample)
	if err != nil {
		return nil, err
	}
	return data.Bytes(), nil
}

// Map 同一层级的节点表，按名字精确查找
type Map map[string]*Param

// NewMap 用节点列表构造，同名节点后注册的覆盖先注册的
func NewMap(params ...*Param) Map {
	m := make(Map, len(params))
	for _, p := range params {
		m[p.Name] = p
	}
	return m
}
