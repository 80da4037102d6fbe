package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haolipeng/runpmd/pkg/metrics"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/sirupsen/logrus"
)

type pipeline struct {
	name       string
	source     Source
	processors []Processor
	sink       Sink
	running    bool
	mu         sync.Mutex
	errChan    chan error
	status     string
	metrics    map[string]*metrics.ProcessorMetrics
	startTime  time.Time
	wg         sync.WaitGroup // 数据路径上的goroutine
	errWg      sync.WaitGroup
}

// NewPipeline 创建流水线，name 用于日志，一般为端口名
func NewPipeline(name string) Pipeline {
	return &pipeline{
		name:       name,
		processors: make([]Processor, 0),
		metrics:    make(map[string]*metrics.ProcessorMetrics),
		status:     "initialized",
	}
}

func (p *pipeline) log() *logrus.Entry {
	return logrus.WithField("pipeline", p.name)
}

func (p *pipeline) AddProcessor(processor Processor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("cannot add processor while pipeline is running")
	}

	p.processors = append(p.processors, processor)
	// 按Stage排序处理器
	sort.SliceStable(p.processors, func(i, j int) bool {
		return p.processors[i].Stage() < p.processors[j].Stage()
	})

	return nil
}

func (p *pipeline) SetSource(source Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
}

func (p *pipeline) SetSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

func (p *pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return types.NewPipelineError("start", fmt.Errorf("pipeline already running"))
	}
	if p.source == nil || p.sink == nil {
		p.mu.Unlock()
		return types.NewPipelineError("start", fmt.Errorf("source and sink are required"))
	}

	p.running = true
	p.startTime = time.Now()
	p.status = "starting"
	p.metrics = make(map[string]*metrics.ProcessorMetrics)
	p.errChan = make(chan error, 100)
	for _, proc := range p.processors {
		p.metrics[proc.Name()] = proc.Metrics()
	}
	p.mu.Unlock()

	p.log().Info("Starting pipeline")

	errChan := p.errChan
	p.errWg.Add(1)
	go func() {
		defer p.errWg.Done()
		p.handleErrors(ctx, errChan)
	}()

	// 1. 先检查所有处理器是否就绪
	for _, proc := range p.processors {
		if err := proc.CheckReady(); err != nil {
			p.log().Errorf("Processor %s not ready: %v", proc.Name(), err)
			return types.NewPipelineError("start", fmt.Errorf("processor %s not ready: %w", proc.Name(), err))
		}
	}

	// 2. 前一个stage的输出直接作为下一个stage的输入
	input := p.source.Output()
	for _, proc := range p.processors {
		p.log().Debugf("Starting processor %s at stage: %v", proc.Name(), proc.Stage())
		p.wg.Add(1)
		out, err := proc.Process(ctx, input, &p.wg)
		if err != nil {
			p.wg.Done()
			return types.NewPipelineError("start", fmt.Errorf("failed to start processor %s: %w", proc.Name(), err))
		}
		input = out
	}
	p.log().Info("All processors have started successfully")

	// 3. 处理器就绪后，再启动sink
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sink.Consume(ctx, input); err != nil {
			errChan <- fmt.Errorf("sink error: %w", err)
		}
	}()

	select {
	case <-p.sink.Ready():
		p.log().Debug("Sink is ready")
	case <-time.After(5 * time.Second):
		return types.NewPipelineError("start", fmt.Errorf("timeout waiting for sink to be ready"))
	}

	// 4. 最后启动数据源，开始数据流转
	if err := p.source.Start(ctx, &p.wg); err != nil {
		return types.NewPipelineError("start", fmt.Errorf("failed to start source: %w", err))
	}
	p.log().Info("Data source has started successfully")

	p.mu.Lock()
	p.status = "running"
	p.mu.Unlock()
	p.log().Info("Pipeline is now running")
	return nil
}

func (p *pipeline) Wait() {
	p.wg.Wait()
}

func (p *pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}

	p.status = "stopping"
	p.log().Info("Pipeline stopping...")
	p.running = false

	// 等待所有处理器完成
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log().Info("All processors completed gracefully")
	case <-time.After(30 * time.Second):
		p.log().Warn("Timeout waiting for processors to complete")
	}

	// 数据路径退出后不会再有错误写入
	close(p.errChan)
	p.errWg.Wait()

	for _, processor := range p.processors {
		if cleaner, ok := processor.(interface{ Cleanup() error }); ok {
			if err := cleaner.Cleanup(); err != nil {
				p.log().Errorf("Error cleaning up processor %s: %v", processor.Name(), err)
			}
		}
	}

	p.status = "stopped"
	p.log().Info("Pipeline stopped and cleaned up")
	return nil
}

func (p *pipeline) handleErrors(ctx context.Context, errChan <-chan error) {
	for {
		select {
		case err, ok := <-errChan:
			if !ok {
				return
			}
			p.log().Errorf("Pipeline error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

// GetStats 流水线运行状态
func (p *pipeline) GetStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]interface{}, len(p.metrics))
	for name, m := range p.metrics {
		stats[name] = m.GetStats()
	}
	return map[string]interface{}{
		"status":     p.status,
		"uptime":     time.Since(p.startTime).String(),
		"processors": len(p.processors),
		"metrics":    stats,
	}
}

func (p *pipeline) GetMetrics() map[string]*metrics.ProcessorMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *pipeline) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
