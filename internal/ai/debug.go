package ai

import (
	"log/slog"
	"os"
	"strings"
)

// parseAIDebugEnv reads KLARA_AI_DEBUG and returns (debugEnabled, promptsEnabled).
// Valid values:
//
//	"all" or "1" or "true" - enable both debug and prompts
//	"prompts" - enable only prompts
//	"none" or "0" or "false" or "" - disable all
func parseAIDebugEnv() (debug bool, prompts bool) {
	switch strings.TrimSpace(strings.ToLower(os.Getenv("KLARA_AI_DEBUG"))) {
	case "all", "1", "true":
		return true, true
	case "prompts":
		return false, true
	}
	return false, false
}

func isDebug() bool {
	debug, _ := parseAIDebugEnv()
	return debug
}

func isDebugPrompts() bool {
	_, prompts := parseAIDebugEnv()
	return prompts
}

func logPrompt(provider, prompt string) {
	slog.Info("ai: prompt body", "provider", provider, "prompt", prompt)
}
