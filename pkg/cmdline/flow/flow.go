package flow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// 命令骨架中的固定关键字
const (
	PatternKeyword = "pattern"
	ActionsKeyword = "actions"
	RuleKeyword    = "rule"
	WhereKeyword   = "where"
)

// Rule 已下发的一条流规则
type Rule struct {
	ID      uint32
	Port    uint16
	Attr    FlowAttr
	Pattern []FlowItem
	Actions []FlowAction
}

// Offloader 接收编译结果的下游（硬件或软件实现）
// Create 失败时返回的错误应包装 types.ErrHardwareRejected
type Offloader interface {
	Create(port uint16, attr FlowAttr, pattern []FlowItem, actions []FlowAction) (uint32, error)
	Destroy(port uint16, id uint32) error
	Flush(port uint16) (int, error)
	List(port uint16) ([]Rule, error)
}

// RuleFilter flow list 的过滤条件
type RuleFilter interface {
	Match(r Rule) (bool, error)
}

// FilterCompiler 把 where 之后的表达式编译成过滤条件
type FilterCompiler func(expr string) (RuleFilter, error)

// Compiled 一条 flow create 命令的三个编译产物
type Compiled struct {
	Port    uint16
	Attr    FlowAttr
	Pattern []FlowItem
	Actions []FlowAction
}

// FlowCmd flow 命令模块，持有三个语法域的注册表
type FlowCmd struct {
	attrs     *FlowAttributes
	items     *FlowItems
	actions   *FlowActions
	offloader Offloader
	filter    FilterCompiler
	observers []types.FlowObserver
	portArg   *arg.IntArg[uint16]
	idArg     *arg.IntArg[uint32]
}

// NewFlowCmd 使用内置语法创建 flow 命令模块
func NewFlowCmd(offloader Offloader) *FlowCmd {
	return NewFlowCmdWithRegistries(NewFlowAttributes(), NewDefaultFlowItems(), NewDefaultFlowActions(), offloader)
}

func NewFlowCmdWithRegistries(attrs *FlowAttributes, items *FlowItems, actions *FlowActions, offloader Offloader) *FlowCmd {
	return &FlowCmd{
		attrs:     attrs,
		items:     items,
		actions:   actions,
		offloader: offloader,
		portArg:   arg.NewIntArg[uint16](),
		idArg:     arg.NewIntArg[uint32](),
	}
}

func (f *FlowCmd) Attributes() *FlowAttributes { return f.attrs }
func (f *FlowCmd) Items() *FlowItems           { return f.items }
func (f *FlowCmd) Actions() *FlowActions       { return f.actions }

// SetFilterCompiler 设置 flow list where 的表达式编译器，不设置时不支持过滤
func (f *FlowCmd) SetFilterCompiler(c FilterCompiler) {
	f.filter = c
}

// AddObserver 注册事件观察者，只能在启动阶段调用
func (f *FlowCmd) AddObserver(o types.FlowObserver) {
	f.observers = append(f.observers, o)
}

func (f *FlowCmd) emit(ev types.FlowEvent) {
	ev.Timestamp = time.Now()
	for _, o := range f.observers {
		o(ev)
	}
}

// ParseCmd 解析 "flow" 之后的子命令
func (f *FlowCmd) ParseCmd(toks *cmdline.Tokens) (string, error) {
	sub, ok := toks.Next()
	if !ok {
		return "", types.NewParseError("flow", "", types.ErrUnknownKeyword)
	}
	switch sub {
	case "create":
		return f.create(toks)
	case "destroy":
		return f.destroy(toks)
	case "list":
		return f.list(toks)
	case "flush":
		return f.flush(toks)
	default:
		return "", types.NewParseError("flow", sub, types.ErrUnknownKeyword)
	}
}

func (f *FlowCmd) parsePort(toks *cmdline.Tokens) (uint16, error) {
	tok, ok := toks.Next()
	if !ok {
		return 0, types.NewParseError("flow", "<port>", types.ErrInvalidArgument)
	}
	port, err := f.portArg.Strton(tok)
	if err != nil {
		return 0, &types.ParseError{Domain: "flow", Token: tok, Err: err}
	}
	return port, nil
}

// expect 消费一个固定关键字
func expect(toks *cmdline.Tokens, domain, keyword string) error {
	tok, ok := toks.Peek()
	if !ok || tok != keyword {
		return types.NewParseError(domain, tok, types.ErrUnknownKeyword)
	}
	toks.Next()
	return nil
}

// Compile 编译 "<port> <attr> pattern <items> actions <actions>"，不下发
// 任何一个语法域出错都会放弃整条命令
func (f *FlowCmd) Compile(toks *cmdline.Tokens) (*Compiled, error) {
	port, err := f.parsePort(toks)
	if err != nil {
		return nil, err
	}

	attr, err := f.attrs.ParseAttr(toks)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"domain": "attr", "port": port}).Debugf("attribute compiled: %+v", attr.Attr())

	if err := expect(toks, "attr", PatternKeyword); err != nil {
		return nil, err
	}
	items, err := f.items.ParsePattern(toks)
	if err != nil {
		return nil, err
	}
	if items.State() != StateFinalized {
		tok, _ := toks.Peek()
		return nil, types.NewParseError("pattern", tok, types.ErrUnknownKeyword)
	}
	logrus.WithFields(logrus.Fields{"domain": "pattern", "port": port}).Debugf("pattern compiled: %d items", len(items.Pattern()))

	if err := expect(toks, "pattern", ActionsKeyword); err != nil {
		return nil, err
	}
	actions, err := f.actions.ParseActions(toks)
	if err != nil {
		return nil, err
	}
	if actions.State() != StateFinalized {
		tok, _ := toks.Peek()
		return nil, types.NewParseError("actions", tok, types.ErrUnknownKeyword)
	}
	logrus.WithFields(logrus.Fields{"domain": "actions", "port": port}).Debugf("actions compiled: %d actions", len(actions.Actions()))

	if tok, ok := toks.Peek(); ok {
		return nil, types.NewParseError("flow", tok, types.ErrUnknownKeyword)
	}

	return &Compiled{
		Port:    port,
		Attr:    attr.Attr(),
		Pattern: items.Pattern(),
		Actions: actions.Actions(),
	}, nil
}

func (f *FlowCmd) create(toks *cmdline.Tokens) (string, error) {
	command := toks.String()
	c, err := f.Compile(toks)
	if err == nil {
		var id uint32
		id, err = f.offloader.Create(c.Port, c.Attr, c.Pattern, c.Actions)
		if err == nil {
			logrus.WithFields(logrus.Fields{"port": c.Port, "flow_id": id}).Info("Flow created")
			f.emit(types.FlowEvent{Kind: types.FlowCreated, Port: c.Port, FlowID: id, Command: command})
			return fmt.Sprintf("Flow rule #%d created", id), nil
		}
		if !errors.Is(err, types.ErrHardwareRejected) {
			err = fmt.Errorf("%w: %v", types.ErrHardwareRejected, err)
		}
	}

	logrus.WithFields(logrus.Fields{"command": command}).WithError(err).Info("Flow failed")
	ev := types.FlowEvent{Kind: types.FlowFailed, Command: command, Error: err.Error()}
	if c != nil {
		ev.Port = c.Port
	}
	f.emit(ev)
	return "", fmt.Errorf("Flow failed: %w", err)
}

// destroy <port> rule <id> [rule <id> ...]
func (f *FlowCmd) destroy(toks *cmdline.Tokens) (string, error) {
	port, err := f.parsePort(toks)
	if err != nil {
		return "", err
	}

	var ids []uint32
	for toks.Len() > 0 {
		if err := expect(toks, "flow", RuleKeyword); err != nil {
			return "", err
		}
		tok, ok := toks.Next()
		if !ok {
			return "", types.NewParseError("flow", RuleKeyword, types.ErrInvalidArgument)
		}
		id, err := f.idArg.Strton(tok)
		if err != nil {
			return "", &types.ParseError{Domain: "flow", Token: tok, Err: err}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", types.NewParseError("flow", RuleKeyword, types.ErrInvalidArgument)
	}

	var out strings.Builder
	for _, id := range ids {
		if err := f.offloader.Destroy(port, id); err != nil {
			return out.String(), err
		}
		logrus.WithFields(logrus.Fields{"port": port, "flow_id": id}).Info("Flow destroyed")
		f.emit(types.FlowEvent{Kind: types.FlowDestroyed, Port: port, FlowID: id})
		fmt.Fprintf(&out, "Flow rule #%d destroyed\n", id)
	}
	return strings.TrimSuffix(out.String(), "\n"), nil
}

// flush <port>
func (f *FlowCmd) flush(toks *cmdline.Tokens) (string, error) {
	port, err := f.parsePort(toks)
	if err != nil {
		return "", err
	}
	if tok, ok := toks.Peek(); ok {
		return "", types.NewParseError("flow", tok, types.ErrUnknownKeyword)
	}
	n, err := f.offloader.Flush(port)
	if err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{"port": port, "count": n}).Info("Flows flushed")
	f.emit(types.FlowEvent{Kind: types.FlowFlushed, Port: port, Count: n})
	return fmt.Sprintf("%d flow rules flushed", n), nil
}

// list <port> [where <expr>]
func (f *FlowCmd) list(toks *cmdline.Tokens) (string, error) {
	port, err := f.parsePort(toks)
	if err != nil {
		return "", err
	}

	var filter RuleFilter
	if toks.Len() > 0 {
		if err := expect(toks, "flow", WhereKeyword); err != nil {
			return "", err
		}
		if f.filter == nil {
			return "", types.NewParseError("flow", WhereKeyword, types.ErrUnknownKeyword)
		}
		expr := toks.String()
		toks.Skip(toks.Len())
		filter, err = f.filter(expr)
		if err != nil {
			return "", &types.ParseError{Domain: "flow", Token: expr, Err: err}
		}
	}

	rules, err := f.offloader.List(port)
	if err != nil {
		return "", err
	}
	rules, err = FilterRules(rules, filter)
	if err != nil {
		return "", err
	}
	return FormatRules(rules), nil
}

// FilterRules 按过滤条件筛选规则，filter 为nil时原样返回
func FilterRules(rules []Rule, filter RuleFilter) ([]Rule, error) {
	if filter == nil {
		return rules, nil
	}
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		ok, err := filter.Match(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// FormatRules 按 testpmd 的 flow list 格式输出
func FormatRules(rules []Rule) string {
	var b strings.Builder
	b.WriteString("ID\tGroup\tPrio\tAttr\tRule")
	for _, r := range rules {
		fmt.Fprintf(&b, "\n%d\t%d\t%d\t%s\t%s", r.ID, r.Attr.Group, r.Attr.Priority, attrFlags(r.Attr), describe(r))
	}
	return b.String()
}

func attrFlags(a FlowAttr) string {
	flags := []byte("---")
	if a.Ingress() {
		flags[0] = 'i'
	}
	if a.Egress() {
		flags[1] = 'e'
	}
	if a.Transfer() {
		flags[2] = 't'
	}
	return string(flags)
}

func describe(r Rule) string {
	var parts []string
	for _, item := range r.Pattern {
		if item.Type == ItemTypeEnd {
			break
		}
		parts = append(parts, strings.ToUpper(item.Type.String()))
	}
	parts = append(parts, "=>")
	for _, action := range r.Actions {
		if action.Type == ActionTypeEnd {
			break
		}
		parts = append(parts, strings.ToUpper(action.Type.String()))
	}
	return strings.Join(parts, " ")
}
