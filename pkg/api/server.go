package api

import (
	"context"
	"fmt"

	"github.com/haolipeng/runpmd/pkg/config"
	"github.com/labstack/echo/v4"
)

// Server HTTP 服务器
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer 创建一个新的 HTTP 服务器
func NewServer(cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &Server{
		echo: e,
		addr: fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	}
}

// Start 启动 HTTP 服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

// Stop 停止 HTTP 服务器
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// GetEcho 获取Echo实例
func (s *Server) GetEcho() *echo.Echo {
	return s.echo
}

// RegisterFlowService 注册流规则服务
func (s *Server) RegisterFlowService(fs *FlowService) {
	s.echo.POST("/commands", fs.RunCommand)                // 执行任意命令
	s.echo.GET("/ports", fs.GetPorts)                      // 端口列表
	s.echo.GET("/ports/:port/flows", fs.GetFlows)          // 查询流规则，filter 为CEL表达式
	s.echo.POST("/ports/:port/flows", fs.CreateFlow)       // 创建流规则
	s.echo.DELETE("/ports/:port/flows", fs.FlushFlows)     // 清空端口的流规则
	s.echo.DELETE("/ports/:port/flows/:id", fs.DeleteFlow) // 删除流规则
	s.echo.GET("/scripts", fs.GetScripts)                  // 启动脚本列表
	s.echo.POST("/scripts/:rule_id/run", fs.RunScript)     // 执行脚本
	s.echo.GET("/events", fs.Events)                       // websocket 事件推送
}
