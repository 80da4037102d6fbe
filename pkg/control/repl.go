package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ContinuationPrompt 续行提示符
const ContinuationPrompt = "> "

// Submitter 命令执行入口
type Submitter interface {
	Submit(ctx context.Context, line string) (string, error)
}

// REPL 交互式命令行，行尾的 \ 表示命令在下一行继续
type REPL struct {
	in     *bufio.Scanner
	out    io.Writer
	prompt string
	exec   Submitter
}

func NewREPL(in io.Reader, out io.Writer, prompt string, exec Submitter) *REPL {
	return &REPL{
		in:     bufio.NewScanner(in),
		out:    out,
		prompt: prompt,
		exec:   exec,
	}
}

// readCommand 读取一条完整命令，输入结束时返回false
func (r *REPL) readCommand() (string, bool) {
	fmt.Fprint(r.out, r.prompt)

	var b strings.Builder
	for r.in.Scan() {
		line := r.in.Text()
		if strings.HasSuffix(line, "\\") {
			b.WriteString(strings.TrimSuffix(line, "\\"))
			b.WriteByte(' ')
			fmt.Fprint(r.out, ContinuationPrompt)
			continue
		}
		b.WriteString(line)
		return strings.TrimSpace(b.String()), true
	}
	if b.Len() > 0 {
		return strings.TrimSpace(b.String()), true
	}
	return "", false
}

// Run 循环读取并执行命令，直到 exit/quit、输入结束或 ctx 取消
func (r *REPL) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, ok := r.readCommand()
		if !ok {
			return r.in.Err()
		}

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		out, err := r.exec.Submit(ctx, line)
		if out != "" {
			fmt.Fprintln(r.out, out)
		}
		if err != nil {
			if errors.Is(err, ErrStopped) {
				return err
			}
			fmt.Fprintf(r.out, "Error: %v\n", err)
		}
	}
}
