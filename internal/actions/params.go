package actions

import (
	"encoding/json"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/pkg/schema"
)

// Param helpers shared by every action file.

func stringParam(m map[string]any, key, defaultVal string) string {
	s, ok := m[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	b, ok := m[key].(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	switch n := m[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	if n, ok := m[key].(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return defaultVal
		}
		return f
	}
	f, ok := expressions.ToFloat(m[key])
	if !ok {
		return defaultVal
	}
	return f
}

func mapParam(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func stringsParam(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// lookupString reads key from config first, then from the execution context.
func lookupString(in ActionInput, key string) string {
	if s := stringParam(in.Config, key, ""); s != "" {
		return s
	}
	return stringParam(in.Context, key, "")
}

// lookupFloat reads key from config first, then from the execution context.
func lookupFloat(in ActionInput, key string, defaultVal float64) float64 {
	if _, ok := in.Config[key]; ok {
		return floatParam(in.Config, key, floatParam(in.Context, key, defaultVal))
	}
	return floatParam(in.Context, key, defaultVal)
}

func succeed(message string, data map[string]any) *schema.BehaviorResult {
	return &schema.BehaviorResult{Success: true, Message: message, Data: data}
}

func fail(message, errMsg string) *schema.BehaviorResult {
	return &schema.BehaviorResult{Success: false, Message: message, Error: errMsg}
}
