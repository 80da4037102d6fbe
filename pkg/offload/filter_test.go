package offload

import (
	"testing"

	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFilter 测试CEL过滤表达式
func TestFilter(t *testing.T) {
	rule := flow.Rule{
		ID:   3,
		Port: 1,
		Attr: flow.FlowAttr{Group: 2, Priority: 1, Flags: flow.AttrIngress},
		Pattern: []flow.FlowItem{
			{Type: flow.ItemTypeEth}, {Type: flow.ItemTypeIPv4}, {Type: flow.ItemTypeEnd},
		},
		Actions: []flow.FlowAction{
			{Type: flow.ActionTypeCount}, {Type: flow.ActionTypeDrop}, {Type: flow.ActionTypeEnd},
		},
	}

	testCases := []struct {
		name string
		expr string
		want bool
	}{
		{"组号", "flow.group == 2", true},
		{"优先级和方向", "flow.priority < 2 && flow.ingress && !flow.egress", true},
		{"包含动作", `"drop" in flow.actions`, true},
		{"不包含匹配项", `"udp" in flow.items`, false},
		{"结束标记不计入", `size(flow.items) == 2 && size(flow.actions) == 2`, true},
		{"规则号和端口", "flow.id == 3 && flow.port == 0", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := CompileFilter(tc.expr)
			require.NoError(t, err)
			got, err := f.Match(rule)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.expr, f.String())
		})
	}
}

func TestFilterInvalid(t *testing.T) {
	for _, expr := range []string{
		"flow.group ==",
		"flow.unknown == 1",
		"flow.group + 1",
	} {
		_, err := CompileFilter(expr)
		assert.Error(t, err, expr)
	}
}
