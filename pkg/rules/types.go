package rules

import (
	"strconv"
	"strings"
)

// 脚本状态
const (
	StateEnable  = "enable"
	StateDisable = "disable"
)

// PortPlaceholder 命令中的端口占位符，加载时替换为脚本的 port
const PortPlaceholder = "${port}"

// Script 启动时执行的一组命令
type Script struct {
	State    string   `yaml:"state"`     // 脚本状态 enable/disable
	RuleID   string   `yaml:"rule_id"`   // 脚本ID
	RuleName string   `yaml:"rule_name"` // 脚本名称
	Port     *uint16  `yaml:"port"`      // 可选，替换命令中的 ${port}
	Commands []string `yaml:"commands"`  // 按顺序执行的命令
}

// Enabled 未写状态的脚本视为启用
func (s *Script) Enabled() bool {
	return s.State != StateDisable
}

// Expand 返回替换占位符后的命令，跳过空行和 # 注释
func (s *Script) Expand() []string {
	out := make([]string, 0, len(s.Commands))
	for _, cmd := range s.Commands {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" || strings.HasPrefix(cmd, "#") {
			continue
		}
		if s.Port != nil {
			cmd = strings.ReplaceAll(cmd, PortPlaceholder, strconv.Itoa(int(*s.Port)))
		}
		out = append(out, cmd)
	}
	return out
}
