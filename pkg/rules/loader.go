package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ScriptLoader 负责加载命令脚本，保持文件顺序
type ScriptLoader struct {
	scripts map[string]*Script // key为脚本ID
	order   []string
}

// NewScriptLoader 创建一个新的脚本加载器
func NewScriptLoader() *ScriptLoader {
	return &ScriptLoader{
		scripts: make(map[string]*Script),
	}
}

// LoadScriptFromFile 从文件加载脚本，ID相同的脚本后加载的覆盖先加载的
func (sl *ScriptLoader) LoadScriptFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取脚本文件失败: %w", err)
	}

	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return fmt.Errorf("解析YAML失败: %w", err)
	}
	if script.RuleID == "" {
		script.RuleID = filepath.Base(filePath)
	}
	if script.State != "" && script.State != StateEnable && script.State != StateDisable {
		return fmt.Errorf("脚本状态无效: %q", script.State)
	}

	if _, exists := sl.scripts[script.RuleID]; !exists {
		sl.order = append(sl.order, script.RuleID)
	}
	sl.scripts[script.RuleID] = &script
	return nil
}

// LoadScriptsFromDirectory 按文件名顺序加载目录下的 .yaml/.yml 文件
func (sl *ScriptLoader) LoadScriptsFromDirectory(dirPath string) error {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("读取目录失败: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if filepath.Ext(file.Name()) == ".yaml" || filepath.Ext(file.Name()) == ".yml" {
			fullPath := filepath.Join(dirPath, file.Name())
			if err := sl.LoadScriptFromFile(fullPath); err != nil {
				return fmt.Errorf("加载脚本文件 %s 失败: %w", file.Name(), err)
			}
		}
	}
	return nil
}

// GetScript 根据脚本ID获取脚本
func (sl *ScriptLoader) GetScript(id string) (*Script, bool) {
	script, exists := sl.scripts[id]
	return script, exists
}

// Scripts 按加载顺序返回全部脚本
func (sl *ScriptLoader) Scripts() []*Script {
	out := make([]*Script, 0, len(sl.order))
	for _, id := range sl.order {
		out = append(out, sl.scripts[id])
	}
	return out
}

// Commands 按加载顺序返回启用脚本的全部命令
func (sl *ScriptLoader) Commands() []string {
	var out []string
	for _, script := range sl.Scripts() {
		if script.Enabled() {
			out = append(out, script.Expand()...)
		}
	}
	return out
}
