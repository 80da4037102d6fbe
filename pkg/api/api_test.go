package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/haolipeng/runpmd/pkg/cmdline"
	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
	"github.com/haolipeng/runpmd/pkg/config"
	"github.com/haolipeng/runpmd/pkg/control"
	"github.com/haolipeng/runpmd/pkg/offload"
	"github.com/haolipeng/runpmd/pkg/port"
	"github.com/haolipeng/runpmd/pkg/rules"
	"github.com/haolipeng/runpmd/pkg/types"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *Server
	broker *control.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ports, err := port.Open(port.NewDriverRegistry(), []config.PortConfig{{Name: "port0"}, {Name: "port1"}})
	require.NoError(t, err)

	o := offload.NewSoftwareOffload(ports)
	broker := control.NewBroker(16)
	fc := flow.NewFlowCmd(o)
	fc.SetFilterCompiler(offload.FilterCompiler)
	fc.AddObserver(broker.Publish)

	cmd := cmdline.New()
	cmd.Register("flow", fc)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	loop := control.NewLoop(cmd, 4)
	loop.Start(ctx, &wg)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	scripts := rules.NewScriptLoader()
	require.NoError(t, scripts.LoadScriptsFromDirectory("../../rules"))

	cfg := config.Default()
	s := NewServer(cfg)
	s.RegisterFlowService(NewFlowService(loop, o, ports, broker, scripts))
	return &testEnv{server: s, broker: broker}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.server.GetEcho().ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestFlowLifecycle(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/ports/0/flows",
		`{"rule":"ingress pattern eth / ipv4 / udp dst is 53 / end actions count / queue index 1 / end"}`)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	assert.Equal(t, "Flow rule #0 created", resp.Data)

	code, _ = env.do(t, http.MethodPost, "/ports/0/flows",
		`{"rule":"ingress group 1 pattern eth / end actions drop / end"}`)
	require.Equal(t, http.StatusCreated, code)

	code, resp = env.do(t, http.MethodGet, "/ports/0/flows", "")
	require.Equal(t, http.StatusOK, code)
	views := resp.Data.([]interface{})
	require.Len(t, views, 2)
	first := views[0].(map[string]interface{})
	assert.Equal(t, []interface{}{"eth", "ipv4", "udp"}, first["items"])
	assert.Equal(t, []interface{}{"count", "queue"}, first["actions"])

	code, resp = env.do(t, http.MethodGet, "/ports/0/flows?filter="+strings.ReplaceAll("flow.group == 1", " ", "%20"), "")
	require.Equal(t, http.StatusOK, code)
	views = resp.Data.([]interface{})
	require.Len(t, views, 1)
	assert.Equal(t, float64(1), views[0].(map[string]interface{})["id"])

	code, resp = env.do(t, http.MethodDelete, "/ports/0/flows/0", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Flow rule #0 destroyed", resp.Data)

	code, _ = env.do(t, http.MethodDelete, "/ports/0/flows/0", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = env.do(t, http.MethodDelete, "/ports/0/flows", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1 flow rules flushed", resp.Data)
}

func TestFlowErrors(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"语法错误", http.MethodPost, "/ports/0/flows", `{"rule":"ingress pattern eth / bogus / end actions drop / end"}`, http.StatusBadRequest},
		{"没有方向属性", http.MethodPost, "/ports/0/flows", `{"rule":"pattern eth / end actions drop / end"}`, http.StatusUnprocessableEntity},
		{"空规则", http.MethodPost, "/ports/0/flows", `{"rule":""}`, http.StatusBadRequest},
		{"端口不存在", http.MethodGet, "/ports/5/flows", "", http.StatusNotFound},
		{"端口号无效", http.MethodGet, "/ports/x/flows", "", http.StatusBadRequest},
		{"过滤表达式无效", http.MethodGet, "/ports/0/flows?filter=flow.nope", "", http.StatusBadRequest},
		{"规则号无效", http.MethodDelete, "/ports/0/flows/abc", "", http.StatusBadRequest},
		{"未知命令", http.MethodPost, "/commands", `{"command":"bogus"}`, http.StatusBadRequest},
		{"脚本不存在", http.MethodPost, "/scripts/nope/run", "", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := env.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestCommandsPortsAndScripts(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/scripts/default_dns/run", "")
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.Equal(t, []interface{}{"Flow rule #0 created", "Flow rule #1 created"}, resp.Data)

	code, resp = env.do(t, http.MethodPost, "/commands", `{"command":"flow list 0"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, resp.Data, "ETH IPV4 UDP => QUEUE")

	code, resp = env.do(t, http.MethodGet, "/ports", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 2)

	code, resp = env.do(t, http.MethodGet, "/scripts", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 2)
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.GetEcho())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.broker.Len() == 1 }, time.Second, 10*time.Millisecond)

	code, _ := env.do(t, http.MethodPost, "/ports/1/flows", `{"rule":"egress pattern eth / end actions drop / end"}`)
	require.Equal(t, http.StatusCreated, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev types.FlowEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, types.FlowCreated, ev.Kind)
	assert.Equal(t, uint16(1), ev.Port)

	conn.Close()
	assert.Eventually(t, func() bool { return env.broker.Len() == 0 }, time.Second, 10*time.Millisecond)
}
