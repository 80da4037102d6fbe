package offload

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/haolipeng/runpmd/pkg/cmdline/flow"
)

// Filter 用CEL表达式筛选流规则，例如 flow.group == 1 && "drop" in flow.actions
type Filter struct {
	expr    string
	program cel.Program
}

func newFilterEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Declarations(
			decls.NewVar("flow.id", decls.Int),
			decls.NewVar("flow.port", decls.Int),
			decls.NewVar("flow.group", decls.Int),
			decls.NewVar("flow.priority", decls.Int),
			decls.NewVar("flow.ingress", decls.Bool),
			decls.NewVar("flow.egress", decls.Bool),
			decls.NewVar("flow.transfer", decls.Bool),
			decls.NewVar("flow.items", decls.NewListType(decls.String)),
			decls.NewVar("flow.actions", decls.NewListType(decls.String)),
		),
	)
}

// CompileFilter 编译过滤表达式，表达式必须返回布尔值
func CompileFilter(expr string) (*Filter, error) {
	env, err := newFilterEnv()
	if err != nil {
		return nil, fmt.Errorf("create cel env failed: %v", err)
	}

	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile expression failed: %v", iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return nil, fmt.Errorf("check expression failed: %v", iss.Err())
	}
	if !checked.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got %s", checked.OutputType().String())
	}

	program, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("create program failed: %v", err)
	}
	return &Filter{expr: expr, program: program}, nil
}

// FilterCompiler 供 flow list where 使用
func FilterCompiler(expr string) (flow.RuleFilter, error) {
	f, err := CompileFilter(expr)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Filter) String() string {
	return f.expr
}

func ruleVars(r flow.Rule) map[string]interface{} {
	items := make([]string, 0, len(r.Pattern))
	for _, item := range r.Pattern {
		if item.Type != flow.ItemTypeEnd {
			items = append(items, item.Type.String())
		}
	}
	actions := make([]string, 0, len(r.Actions))
	for _, action := range r.Actions {
		if action.Type != flow.ActionTypeEnd {
			actions = append(actions, action.Type.String())
		}
	}

	return map[string]interface{}{
		"flow.id":       int64(r.ID),
		"flow.port":     int64(r.Port),
		"flow.group":    int64(r.Attr.Group),
		"flow.priority": int64(r.Attr.Priority),
		"flow.ingress":  r.Attr.Ingress(),
		"flow.egress":   r.Attr.Egress(),
		"flow.transfer": r.Attr.Transfer(),
		"flow.items":    items,
		"flow.actions":  actions,
	}
}

// Match 评估一条规则
func (f *Filter) Match(r flow.Rule) (bool, error) {
	result, _, err := f.program.Eval(ruleVars(r))
	if err != nil {
		return false, fmt.Errorf("evaluate filter failed: %v", err)
	}
	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter result is not boolean: %v", result.Value())
	}
	return matched, nil
}
