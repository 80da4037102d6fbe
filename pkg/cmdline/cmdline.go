package cmdline

import (
	"fmt"
	"sort"

	"github.com/haolipeng/runpmd/pkg/types"
)

// Module 一个顶层命令模块，接收去掉模块名之后的token
type Module interface {
	ParseCmd(toks *Tokens) (string, error)
}

// ModuleFunc 函数形式的命令模块
type ModuleFunc func(toks *Tokens) (string, error)

func (f ModuleFunc) ParseCmd(toks *Tokens) (string, error) {
	return f(toks)
}

// Modules 按命令首个关键字索引的模块表
type Modules map[string]Module

// Cmdline 命令分发器，只在控制面goroutine上使用
type Cmdline struct {
	modules Modules
}

func New() *Cmdline {
	return &Cmdline{modules: make(Modules)}
}

// Register 注册模块，同名模块后注册的生效
func (c *Cmdline) Register(name string, m Module) {
	c.modules[name] = m
}

// Names 已注册的模块名，按字母序
func (c *Cmdline) Names() []string {
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run 执行一行命令，空行返回空结果
func (c *Cmdline) Run(line string) (string, error) {
	toks := Split(line)
	name, ok := toks.Next()
	if !ok {
		return "", nil
	}
	m, ok := c.modules[name]
	if !ok {
		return "", fmt.Errorf("Unknown command: %w: \"%s\"", types.ErrUnknownKeyword, name)
	}
	return m.ParseCmd(toks)
}
