package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AssistantPrompt はアシスタントのシステムプロンプト設定（YAML）の構造を定義
type AssistantPrompt struct {
	Role            string   `yaml:"role"`
	Capabilities    []string `yaml:"capabilities"`
	Guidelines      []string `yaml:"guidelines"`
	UnknownFallback string   `yaml:"unknown_fallback"`

	SpecialCommands []SpecialCommand `yaml:"special_commands"`
}

// SpecialCommand is a canned reply for messages containing any trigger.
type SpecialCommand struct {
	Trigger  []string `yaml:"trigger"`
	Response string   `yaml:"response"`
}

// DefaultAssistantPrompt returns the built-in prompt used when no file is configured.
func DefaultAssistantPrompt() *AssistantPrompt {
	return &AssistantPrompt{
		Role: "Nexus AI, a helpful assistant for the NEXUS CRM & ERP platform",
		Capabilities: []string{
			"Answer questions about the NEXUS platform features",
			"Provide guidance on how to use different modules (CRM, Inventory, Sales, Purchasing)",
			"Suggest actions users can take",
			"Explain business metrics and reports",
		},
		Guidelines: []string{
			"Be concise and helpful",
			"If the user asks about data (sales, inventory levels, etc.), remind them that you can't access live data, but suggest where they can find it",
			`Suggest specific actions they can take (e.g., "Check the Low Stock Alerts page")`,
			"Keep responses under 100 words when possible",
			"Be professional but friendly",
		},
		UnknownFallback: "If you don't know something, admit it and suggest how they might find the answer.",
	}
}

// LoadAssistantPrompt はYAMLファイルからプロンプト設定を読み込む。
// path が空ならデフォルト、ファイルで省略された項目もデフォルトで補う。
func LoadAssistantPrompt(path string) (*AssistantPrompt, error) {
	prompt := DefaultAssistantPrompt()
	if path == "" {
		return prompt, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("プロンプト設定ファイルの読み込みに失敗: %w", err)
	}

	var loaded AssistantPrompt
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("YAMLのパースに失敗: %w", err)
	}

	if loaded.Role != "" {
		prompt.Role = loaded.Role
	}
	if len(loaded.Capabilities) > 0 {
		prompt.Capabilities = loaded.Capabilities
	}
	if len(loaded.Guidelines) > 0 {
		prompt.Guidelines = loaded.Guidelines
	}
	if loaded.UnknownFallback != "" {
		prompt.UnknownFallback = loaded.UnknownFallback
	}
	prompt.SpecialCommands = loaded.SpecialCommands
	return prompt, nil
}

// Build はページとテナントを埋め込んだシステムプロンプトを構築
func (p *AssistantPrompt) Build(page, tenantID string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s.\n\n", p.Role)

	sb.WriteString("Current Context:\n")
	fmt.Fprintf(&sb, "- User is viewing: %s\n", page)
	fmt.Fprintf(&sb, "- Tenant: %s\n\n", tenantID)

	sb.WriteString("Your capabilities:\n")
	for _, c := range p.Capabilities {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	sb.WriteString("\n")

	sb.WriteString("Guidelines:\n")
	for _, g := range p.Guidelines {
		fmt.Fprintf(&sb, "- %s\n", g)
	}

	if p.UnknownFallback != "" {
		sb.WriteString("\n")
		sb.WriteString(p.UnknownFallback)
	}
	return sb.String()
}

// CheckSpecialCommand は定型応答で済むメッセージかチェック
func (p *AssistantPrompt) CheckSpecialCommand(message string) (bool, string) {
	lowerMsg := strings.ToLower(message)
	for _, cmd := range p.SpecialCommands {
		for _, trigger := range cmd.Trigger {
			if trigger != "" && strings.Contains(lowerMsg, strings.ToLower(trigger)) {
				return true, cmd.Response
			}
		}
	}
	return false, ""
}
