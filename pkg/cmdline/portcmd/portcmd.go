package portcmd

import (
	"fmt"
	"strings"

	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/arg"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

// port [set|show] [all | <port ID>] <command>

type cmdType int

const (
	cmdSet cmdType = iota + 1
	cmdShow
)

type portContext struct {
	cmd   cmdType
	all   bool
	id    uint16
	ports []*port.Port
}

// subCommand port 之后的子命令，消费自己的token
type subCommand func(ctx *portContext, toks *cmdline.Tokens) (string, error)

// PortCmd port 命令模块
type PortCmd struct {
	table    *port.Table
	target   arg.Arg
	commands map[string]subCommand
}

func NewPortCmd(table *port.Table) *PortCmd {
	c := &PortCmd{
		table:    table,
		target:   arg.NewWildcardArg(arg.NewIntArgWithOrder[uint16](arg.LittleEndian)),
		commands: make(map[string]subCommand),
	}
	c.commands["promisc"] = promisc
	c.commands["info"] = info
	return c
}

func (c *PortCmd) ParseCmd(toks *cmdline.Tokens) (string, error) {
	ctx := &portContext{}
	verb, _ := toks.Next()
	switch verb {
	case "set":
		ctx.cmd = cmdSet
	case "show":
		ctx.cmd = cmdShow
	default:
		return "", types.NewParseError("port", verb, types.ErrUnknownKeyword)
	}

	tok, ok := toks.Next()
	if !ok {
		return "", types.NewParseError("port", "<port>", types.ErrInvalidArgument)
	}
	data, err := c.target.Serialize(tok)
	if err != nil {
		return "", &types.ParseError{Domain: "port", Token: tok, Err: err}
	}
	if arg.IsWildcard(data) {
		ctx.all = true
		ctx.ports = c.table.All()
	} else {
		ctx.id = uint16(data.Data[0]) | uint16(data.Data[1])<<8
		p, ok := c.table.Get(ctx.id)
		if !ok {
			return "", types.NewParseError("port", tok, types.ErrInvalidArgument)
		}
		ctx.ports = []*port.Port{p}
	}

	if toks.Len() == 0 {
		if ctx.cmd == cmdShow {
			if ctx.all {
				return port.Summary(ctx.ports), nil
			}
			return port.Info(ctx.ports[0]), nil
		}
		return "", types.NewParseError("port", "set", types.ErrInvalidArgument)
	}

	var out []string
	for toks.Len() > 0 {
		name, _ := toks.Peek()
		sub, ok := c.commands[name]
		if !ok {
			return strings.Join(out, "\n"), types.NewParseError("port", name, types.ErrUnknownKeyword)
		}
		res, err := sub(ctx, toks)
		if err != nil {
			return strings.Join(out, "\n"), err
		}
		if res != "" {
			out = append(out, res)
		}
	}
	return strings.Join(out, "\n"), nil
}

// promisc on|off|1|0
func promisc(ctx *portContext, toks *cmdline.Tokens) (string, error) {
	toks.Next()
	if ctx.cmd == cmdShow {
		var lines []string
		for _, p := range ctx.ports {
			state := "off"
			if p.Promiscuous() {
				state = "on"
			}
			lines = append(lines, fmt.Sprintf("Port %d promiscuous mode: %s", p.ID, state))
		}
		return strings.Join(lines, "\n"), nil
	}

	value, ok := toks.Next()
	if !ok {
		return "", types.NewParseError("port", "promisc", types.ErrInvalidArgument)
	}
	var on bool
	switch value {
	case "on", "1":
		on = true
	case "off", "0":
		on = false
	default:
		return "", types.NewParseError("port", value, types.ErrInvalidArgument)
	}

	for _, p := range ctx.ports {
		p.SetPromiscuous(on)
		logrus.WithFields(logrus.Fields{"port": p.ID, "promisc": on}).Info("port promiscuous mode changed")
	}
	return "", nil
}

func info(ctx *portContext, toks *cmdline.Tokens) (string, error) {
	toks.Next()
	if ctx.cmd != cmdShow {
		return "", types.NewParseError("port", "info", types.ErrUnknownKeyword)
	}
	var lines []string
	for _, p := range ctx.ports {
		lines = append(lines, port.Info(p))
	}
	return strings.Join(lines, "\n"), nil
}
