package control

import (
	"context"
	"errors"
	"sync"

	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/sirupsen/logrus"
)

// ErrStopped 控制面已经退出
var ErrStopped = errors.New("control loop stopped")

type result struct {
	output string
	err    error
}

type request struct {
	line  string
	reply chan result
}

// Loop 控制面goroutine，独占命令模块和全部语法注册表
// REPL、REST接口和启动脚本的命令都经过这里串行执行
type Loop struct {
	cmd  *cmdline.Cmdline
	reqs chan request
	done chan struct{}
	once sync.Once
}

func NewLoop(cmd *cmdline.Cmdline, queueSize int) *Loop {
	return &Loop{
		cmd:  cmd,
		reqs: make(chan request, queueSize),
		done: make(chan struct{}),
	}
}

// Start 启动控制面goroutine，ctx 取消后退出
func (l *Loop) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.run(ctx)
	}()
}

func (l *Loop) run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	logrus.Debug("control loop started")

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("context cancelled, stopping control loop")
			return
		case req := <-l.reqs:
			out, err := l.exec(req.line)
			req.reply <- result{output: out, err: err}
		}
	}
}

func (l *Loop) exec(line string) (out string, err error) {
	logrus.WithField("command", line).Debug("executing command")
	out, err = l.cmd.Run(line)
	if err != nil {
		logrus.WithField("command", line).WithError(err).Debug("command failed")
	}
	return out, err
}

// Submit 提交一行命令并等待结果，可以在任意goroutine调用
func (l *Loop) Submit(ctx context.Context, line string) (string, error) {
	req := request{line: line, reply: make(chan result, 1)}

	select {
	case l.reqs <- req:
	case <-l.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.output, res.err
	case <-l.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done 控制面退出后关闭
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
