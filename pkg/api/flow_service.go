package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
	"github.com/haolipeng/runpmd/pkg/control"
	"github.com/haolipeng/runpmd/pkg/offload"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/rules"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Response 统一响应结构体
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// CommandRequest 执行命令的请求体
type CommandRequest struct {
	Command string `json:"command"`
}

// FlowRequest 创建流规则的请求体，Rule 为端口号之后的部分
type FlowRequest struct {
	Rule string `json:"rule"`
}

// FlowView 流规则及其计数
type FlowView struct {
	ID       uint32   `json:"id"`
	Group    uint32   `json:"group"`
	Priority uint32   `json:"priority"`
	Ingress  bool     `json:"ingress"`
	Egress   bool     `json:"egress"`
	Transfer bool     `json:"transfer"`
	Items    []string `json:"items"`
	Actions  []string `json:"actions"`
	Hits     uint64   `json:"hits"`
	Bytes    uint64   `json:"bytes"`
}

// PortView 端口信息
type PortView struct {
	ID          uint16 `json:"id"`
	Name        string `json:"name"`
	Driver      string `json:"driver"`
	MAC         string `json:"mac,omitempty"`
	Promiscuous bool   `json:"promiscuous"`
	RxPackets   uint64 `json:"rx_packets"`
	TxPackets   uint64 `json:"tx_packets"`
	Dropped     uint64 `json:"dropped"`
}

// FlowLister 读取端口流表，可以在控制面goroutine之外调用
type FlowLister interface {
	Flows(port uint16) ([]*offload.Flow, error)
}

// FlowService 流规则服务，所有修改都经过控制面串行执行
type FlowService struct {
	exec    control.Submitter
	flows   FlowLister
	ports   *port.Table
	broker  *control.Broker
	scripts *rules.ScriptLoader
}

func NewFlowService(exec control.Submitter, flows FlowLister, ports *port.Table, broker *control.Broker, scripts *rules.ScriptLoader) *FlowService {
	return &FlowService{
		exec:    exec,
		flows:   flows,
		ports:   ports,
		broker:  broker,
		scripts: scripts,
	}
}

func (fs *FlowService) submit(c echo.Context, line string) (string, error) {
	out, err := fs.exec.Submit(c.Request().Context(), line)
	if err != nil {
		return out, NewCommandError(err)
	}
	return out, nil
}

func (fs *FlowService) parsePort(c echo.Context) (uint16, error) {
	raw := c.Param("port")
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, NewBadRequestError(fmt.Sprintf("端口号 %s 无效", raw), err)
	}
	if _, ok := fs.ports.Get(uint16(id)); !ok {
		return 0, NewNotFoundError(fmt.Sprintf("端口 %d 不存在", id))
	}
	return uint16(id), nil
}

// RunCommand 执行一行命令并返回输出
func (fs *FlowService) RunCommand(c echo.Context) error {
	var req CommandRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(c, NewBadRequestError("请求格式无效", err))
	}
	if strings.TrimSpace(req.Command) == "" {
		return HandleError(c, NewBadRequestError("命令不能为空", nil))
	}

	out, err := fs.submit(c, req.Command)
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "命令执行成功",
		Data:    out,
	})
}

// GetPorts 获取端口列表
func (fs *FlowService) GetPorts(c echo.Context) error {
	all := fs.ports.All()
	views := make([]PortView, 0, len(all))
	for _, p := range all {
		v := PortView{
			ID:          p.ID,
			Name:        p.Name,
			Driver:      p.Driver,
			Promiscuous: p.Promiscuous(),
			RxPackets:   p.Stats.RxPackets.Load(),
			TxPackets:   p.Stats.TxPackets.Load(),
			Dropped:     p.Stats.Dropped.Load(),
		}
		if len(p.MAC) > 0 {
			v.MAC = p.MAC.String()
		}
		views = append(views, v)
	}
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取端口成功",
		Data:    views,
	})
}

func flowView(f *offload.Flow) FlowView {
	v := FlowView{
		ID:       f.ID,
		Group:    f.Attr.Group,
		Priority: f.Attr.Priority,
		Ingress:  f.Attr.Ingress(),
		Egress:   f.Attr.Egress(),
		Transfer: f.Attr.Transfer(),
		Hits:     f.Counter.Hits.Load(),
		Bytes:    f.Counter.Bytes.Load(),
	}
	for _, item := range f.Pattern {
		if item.Type == flow.ItemTypeEnd {
			break
		}
		v.Items = append(v.Items, item.Type.String())
	}
	for _, action := range f.Actions {
		if action.Type == flow.ActionTypeEnd {
			break
		}
		v.Actions = append(v.Actions, action.Type.String())
	}
	return v
}

// GetFlows 查询端口的流规则，filter 参数为CEL表达式
func (fs *FlowService) GetFlows(c echo.Context) error {
	id, err := fs.parsePort(c)
	if err != nil {
		return HandleError(c, err)
	}

	var filter *offload.Filter
	if expr := c.QueryParam("filter"); expr != "" {
		filter, err = offload.CompileFilter(expr)
		if err != nil {
			return HandleError(c, NewBadRequestError("过滤表达式无效", err))
		}
	}

	flows, err := fs.flows.Flows(id)
	if err != nil {
		return HandleError(c, NewCommandError(err))
	}

	views := make([]FlowView, 0, len(flows))
	for _, f := range flows {
		if filter != nil {
			ok, err := filter.Match(f.Rule)
			if err != nil {
				return HandleError(c, NewBadRequestError("过滤表达式执行失败", err))
			}
			if !ok {
				continue
			}
		}
		views = append(views, flowView(f))
	}

	logrus.WithFields(logrus.Fields{
		"port":      id,
		"total":     len(flows),
		"filtered":  len(views),
		"operation": "get_flows",
	}).Debug("查询流规则")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取流规则成功",
		Data:    views,
	})
}

// CreateFlow 创建流规则
func (fs *FlowService) CreateFlow(c echo.Context) error {
	id, err := fs.parsePort(c)
	if err != nil {
		return HandleError(c, err)
	}
	var req FlowRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(c, NewBadRequestError("请求格式无效", err))
	}
	if strings.TrimSpace(req.Rule) == "" {
		return HandleError(c, NewBadRequestError("规则不能为空", nil))
	}

	out, err := fs.submit(c, fmt.Sprintf("flow create %d %s", id, req.Rule))
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "创建流规则成功",
		Data:    out,
	})
}

// DeleteFlow 删除流规则
func (fs *FlowService) DeleteFlow(c echo.Context) error {
	id, err := fs.parsePort(c)
	if err != nil {
		return HandleError(c, err)
	}
	flowID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return HandleError(c, NewBadRequestError("规则号无效", err))
	}

	out, err := fs.submit(c, fmt.Sprintf("flow destroy %d rule %d", id, flowID))
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "删除流规则成功",
		Data:    out,
	})
}

// FlushFlows 清空端口的流规则
func (fs *FlowService) FlushFlows(c echo.Context) error {
	id, err := fs.parsePort(c)
	if err != nil {
		return HandleError(c, err)
	}

	out, err := fs.submit(c, fmt.Sprintf("flow flush %d", id))
	if err != nil {
		return HandleError(c, err)
	}
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "清空流规则成功",
		Data:    out,
	})
}

// GetScripts 获取启动脚本
func (fs *FlowService) GetScripts(c echo.Context) error {
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取脚本成功",
		Data:    fs.scripts.Scripts(),
	})
}

// RunScript 依次执行脚本中的命令，遇到错误停止
func (fs *FlowService) RunScript(c echo.Context) error {
	ruleID := c.Param("rule_id")
	script, ok := fs.scripts.GetScript(ruleID)
	if !ok {
		return HandleError(c, NewNotFoundError(fmt.Sprintf("脚本 %s 不存在", ruleID)))
	}

	outputs := make([]string, 0, len(script.Commands))
	for _, cmd := range script.Expand() {
		out, err := fs.submit(c, cmd)
		if err != nil {
			return HandleError(c, err)
		}
		outputs = append(outputs, out)
	}

	logrus.WithFields(logrus.Fields{
		"rule_id":   ruleID,
		"commands":  len(outputs),
		"operation": "run_script",
	}).Info("执行脚本")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "执行脚本成功",
		Data:    outputs,
	})
}
