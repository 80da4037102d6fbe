package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haolipeng/runpmd/pkg/api"
	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
	"github.com/haolipeng/runpmd/pkg/cmdline/portcmd"
	"github.com/haolipeng/runpmd/pkg/config"
	"github.com/haolipeng/runpmd/pkg/control"
	"github.com/haolipeng/runpmd/pkg/offload"
	"github.com/haolipeng/runpmd/pkg/pipeline"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/processor"
	"github.com/haolipeng/runpmd/pkg/rules"
	"github.com/haolipeng/runpmd/pkg/sink"
	"github.com/haolipeng/runpmd/pkg/source"
	"github.com/sirupsen/logrus"
)

// App 把端口、软件流表、控制面和数据面组装在一起
type App struct {
	cfg       *config.Config
	Ports     *port.Table
	Offload   *offload.SoftwareOffload
	Broker    *control.Broker
	Loop      *control.Loop
	Scripts   *rules.ScriptLoader
	Pipelines []pipeline.Pipeline

	writers []*sink.PcapWriter
	server  *api.Server
	wg      sync.WaitGroup
}

// New 初始化端口并注册全部命令模块，不启动任何goroutine
func New(cfg *config.Config, drivers *port.DriverRegistry) (*App, error) {
	ports, err := port.Open(drivers, cfg.Ports)
	if err != nil {
		return nil, fmt.Errorf("failed to open ports: %w", err)
	}

	a := &App{
		cfg:     cfg,
		Ports:   ports,
		Offload: offload.NewSoftwareOffload(ports),
		Broker:  control.NewBroker(cfg.Control.QueueSize),
		Scripts: rules.NewScriptLoader(),
	}

	fc := flow.NewFlowCmd(a.Offload)
	fc.SetFilterCompiler(offload.FilterCompiler)
	fc.AddObserver(a.Broker.Publish)

	cmd := cmdline.New()
	cmd.Register("flow", fc)
	cmd.Register("port", portcmd.NewPortCmd(ports))
	a.Loop = control.NewLoop(cmd, cfg.Control.QueueSize)

	if cfg.Control.ScriptDir != "" {
		if err := a.Scripts.LoadScriptsFromDirectory(cfg.Control.ScriptDir); err != nil {
			return nil, fmt.Errorf("failed to load scripts: %w", err)
		}
	}

	if cfg.API.Enable {
		a.server = api.NewServer(cfg)
		a.server.RegisterFlowService(api.NewFlowService(a.Loop, a.Offload, ports, a.Broker, a.Scripts))
	}
	return a, nil
}

// StartControl 启动控制面goroutine并执行启用的启动脚本
func (a *App) StartControl(ctx context.Context) error {
	a.Loop.Start(ctx, &a.wg)

	for _, line := range a.Scripts.Commands() {
		out, err := a.Loop.Submit(ctx, line)
		if err != nil {
			return fmt.Errorf("script command %q: %w", line, err)
		}
		logrus.WithField("command", line).Info(out)
	}
	return nil
}

// StartAPI 在后台启动REST接口，未启用时什么也不做
func (a *App) StartAPI() {
	if a.server == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logrus.Infof("API listening on %s:%d", a.cfg.API.Host, a.cfg.API.Port)
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("API server error: %v", err)
		}
	}()
}

func (a *App) openWriters() (map[uint16]sink.PacketWriter, error) {
	writers := make(map[uint16]sink.PacketWriter)
	for _, p := range a.Ports.All() {
		if p.Conf.Output == "" {
			continue
		}
		if dir := filepath.Dir(p.Conf.Output); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		w, err := sink.NewPcapWriter(p.Conf.Output, p.Conf.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("port %d: %w", p.ID, err)
		}
		a.writers = append(a.writers, w)
		writers[p.ID] = w
	}
	return writers, nil
}

// StartDataPlane 为每个配置了输入文件的端口启动一条流水线
func (a *App) StartDataPlane(ctx context.Context) error {
	writers, err := a.openWriters()
	if err != nil {
		return err
	}

	bufSize := a.cfg.Pipeline.BufferSize
	for _, p := range a.Ports.All() {
		if p.Conf.Input == "" {
			continue
		}

		src, err := source.NewPcapFileSource(p.Conf.Input, p, bufSize)
		if err != nil {
			return err
		}

		pl := pipeline.NewPipeline(p.Name)
		pl.SetSource(src)
		if err := pl.AddProcessor(processor.NewFlowClassifier(a.Offload, p, bufSize)); err != nil {
			return err
		}
		if p.Conf.L2Swap {
			if err := pl.AddProcessor(processor.NewMacSwap(p.Name, bufSize)); err != nil {
				return err
			}
		}
		if err := pl.AddProcessor(processor.NewEgressClassifier(a.Offload, a.Ports, p.Name, bufSize)); err != nil {
			return err
		}
		pl.SetSink(sink.NewPortSink(p.Name, a.Ports, writers, processor.TxPort))

		if err := pl.Start(ctx); err != nil {
			return err
		}
		a.Pipelines = append(a.Pipelines, pl)
	}
	return nil
}

// WaitDataPlane 等待所有端口的输入读完
func (a *App) WaitDataPlane() {
	for _, pl := range a.Pipelines {
		pl.Wait()
	}
}

// Shutdown ctx 应已取消；关闭REST接口并等待所有goroutine退出
func (a *App) Shutdown() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.server.Stop(ctx); err != nil {
			logrus.Errorf("Error stopping API server: %v", err)
		}
	}

	for _, pl := range a.Pipelines {
		if err := pl.Stop(); err != nil {
			logrus.Errorf("Error stopping pipeline: %v", err)
		}
	}
	for _, w := range a.writers {
		if err := w.Close(); err != nil {
			logrus.Errorf("Error closing pcap file: %v", err)
		}
	}
	a.wg.Wait()
}
