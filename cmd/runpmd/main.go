package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	rotates "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/runpmd/pkg/app"
	"github.com/haolipeng/runpmd/pkg/config"
	"github.com/haolipeng/runpmd/pkg/control"
	"github.com/haolipeng/runpmd/pkg/port"
)

func InitLogger(cfg *config.Config) error {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	var level logrus.Level
	switch cfg.Log.Level {
	case "TRACE":
		level = logrus.TraceLevel
	case "DEBUG":
		level = logrus.DebugLevel
	case "INFO":
		level = logrus.InfoLevel
	case "WARN":
		level = logrus.WarnLevel
	case "ERROR":
		level = logrus.ErrorLevel
	case "FATAL":
		level = logrus.FatalLevel
	default:
		level = logrus.WarnLevel //默认
	}
	logrus.SetLevel(level)

	//1、判断文件路径是否存在，不存在则创建
	if err := os.MkdirAll(cfg.Log.Dir, 0755); err != nil {
		return err
	}
	logFileName := path.Join(cfg.Log.Dir, cfg.Log.Filename)

	//2、日志切割功能，按时间来切割
	opts := []rotates.Option{
		rotates.WithMaxAge(time.Duration(cfg.Log.MaxAge) * 24 * time.Hour),       //文件最大保存时间
		rotates.WithRotationTime(time.Duration(cfg.Log.RotateTime) * time.Hour), //文件切割间隔
	}
	if runtime.GOOS != "windows" {
		opts = append(opts, rotates.WithLinkName(logFileName)) //文件软链接
	}
	logWriter, err := rotates.New(logFileName+".%Y%m%d%H%M", opts...)
	if err != nil {
		return err
	}

	//3、日志同时写入文件，终端留给命令行交互
	lfHook := lfshook.NewHook(lfshook.WriterMap{
		logrus.TraceLevel: logWriter,
		logrus.DebugLevel: logWriter,
		logrus.InfoLevel:  logWriter,
		logrus.WarnLevel:  logWriter,
		logrus.ErrorLevel: logWriter,
		logrus.FatalLevel: logWriter,
		logrus.PanicLevel: logWriter,
	}, &logrus.TextFormatter{})
	logrus.AddHook(lfHook)
	logrus.SetOutput(os.Stderr)
	return nil
}

func loadConfig(filename string) (*config.Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "config file %s not found, using defaults\n", filename)
		return config.Default(), nil
	}
	return config.LoadConfig(filename)
}

func main() {
	configFile := flag.String("config", "config.yaml", "配置文件路径，.toml 后缀按TOML解析")
	scriptDir := flag.String("scripts", "", "启动脚本目录，覆盖配置文件中的 control.script_dir")
	batch := flag.Bool("batch", false, "不启动交互命令行，输入文件读完后退出")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *scriptDir != "" {
		cfg.Control.ScriptDir = *scriptDir
	}

	if err := InitLogger(cfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logrus.Info("Starting runpmd...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(cfg, port.NewDriverRegistry())
	if err != nil {
		logrus.Fatalf("Failed to initialize: %v", err)
	}

	// 先执行启动脚本下发流规则，再开始收包
	if err := a.StartControl(ctx); err != nil {
		logrus.Fatalf("Failed to run startup scripts: %v", err)
	}
	if err := a.StartDataPlane(ctx); err != nil {
		logrus.Fatalf("Failed to start data plane: %v", err)
	}
	a.StartAPI()
	logrus.Info("runpmd started successfully")

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if *batch {
			a.WaitDataPlane()
			return
		}
		repl := control.NewREPL(os.Stdin, os.Stdout, cfg.Control.Prompt, a.Loop)
		if err := repl.Run(ctx); err != nil {
			logrus.Errorf("Command line error: %v", err)
		}
	}()

	// 等待中断信号或命令行退出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logrus.Infof("Received signal %v, shutting down...", sig)
	case <-finished:
	}

	cancel()
	a.Shutdown()

	for _, p := range a.Ports.All() {
		fmt.Println(port.Info(p))
	}
	logrus.Info("Shutdown complete")
}
