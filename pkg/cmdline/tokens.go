package cmdline

import "strings"

// Tokens 命令token的只读游标，消费过的token不会再被访问
type Tokens struct {
	toks []string
	pos  int
}

// NewTokens 用已切分的token创建游标
func NewTokens(toks []string) *Tokens {
	return &Tokens{toks: toks}
}

// Split 按空白切分一行命令
func Split(line string) *Tokens {
	return NewTokens(strings.Fields(line))
}

// Peek 查看当前token，不消费
func (t *Tokens) Peek() (string, bool) {
	return t.PeekAt(0)
}

// PeekAt 查看当前位置之后第i个token
func (t *Tokens) PeekAt(i int) (string, bool) {
	if t.pos+i >= len(t.toks) || i < 0 {
		return "", false
	}
	return t.toks[t.pos+i], true
}

// Next 消费并返回当前token
func (t *Tokens) Next() (string, bool) {
	tok, ok := t.Peek()
	if ok {
		t.pos++
	}
	return tok, ok
}

// Skip 消费n个token，不足时消费到末尾
func (t *Tokens) Skip(n int) {
	t.pos += n
	if t.pos > len(t.toks) {
		t.pos = len(t.toks)
	}
}

// Len 剩余token数量
func (t *Tokens) Len() int {
	return len(t.toks) - t.pos
}

// Rest 剩余token，调用方不得修改
func (t *Tokens) Rest() []string {
	return t.toks[t.pos:]
}

// String 剩余token拼成的命令文本
func (t *Tokens) String() string {
	return strings.Join(t.Rest(), " ")
}
