package agent

import (
	"encoding/json"
	"strings"

	"github.com/neotalk/edge-ai/pkg/models"
)

// ParseToolCalls extracts tool calls from assistant text. Three formats
// are tried in order: the XML tool_calls block, JSON arrays of call
// objects (several arrays may appear in one message), and a single JSON
// object. The returned text has the call markup removed.
func ParseToolCalls(text string) (string, []models.ToolCall) {
	if calls, cleaned, ok := parseXMLToolCalls(text); ok {
		return cleaned, calls
	}
	if calls, cleaned, ok := parseJSONArrays(text); ok {
		return cleaned, calls
	}
	if call, cleaned, ok := parseSingleJSONObject(text); ok {
		return cleaned, []models.ToolCall{call}
	}
	return text, nil
}

// parseXMLToolCalls handles
// <tool_calls><invoke name="..."><parameter name="k" value="v"/> or
// <parameter name="k">v</parameter></invoke></tool_calls>.
func parseXMLToolCalls(text string) ([]models.ToolCall, string, bool) {
	start := strings.Index(text, "<tool_calls>")
	if start < 0 {
		return nil, "", false
	}
	end := strings.Index(text, "</tool_calls>")
	var block string
	var cleaned string
	if end >= 0 {
		block = text[start+len("<tool_calls>") : end]
		cleaned = text[:start] + text[end+len("</tool_calls>"):]
	} else {
		block = text[start+len("<tool_calls>"):]
		cleaned = text[:start]
	}

	var calls []models.ToolCall
	remaining := block
	for {
		invokeStart := strings.Index(remaining, "<invoke")
		if invokeStart < 0 {
			break
		}
		invokeEnd := strings.Index(remaining, "</invoke>")
		if invokeEnd < 0 {
			break
		}
		section := remaining[invokeStart : invokeEnd+len("</invoke>")]
		remaining = remaining[invokeEnd+len("</invoke>"):]

		name, ok := xmlAttr(section, "name")
		if !ok || name == "" {
			continue
		}
		call := models.ToolCall{Name: name, Arguments: map[string]any{}}
		for _, param := range xmlParameters(section) {
			call.Arguments[param.name] = param.value
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return nil, "", false
	}
	return calls, strings.TrimSpace(cleaned), true
}

type xmlParam struct {
	name  string
	value string
}

func xmlParameters(section string) []xmlParam {
	var params []xmlParam
	search := section
	for {
		paramStart := strings.Index(search, "<parameter")
		if paramStart < 0 {
			break
		}
		rest := search[paramStart:]
		tagEnd := strings.Index(rest, ">")
		if tagEnd < 0 {
			break
		}
		tag := rest[:tagEnd+1]
		name, ok := xmlAttr(tag, "name")
		if !ok {
			search = rest[len("<parameter"):]
			continue
		}

		if value, hasValue := xmlAttr(tag, "value"); hasValue {
			// Self-closing form: <parameter name="k" value="v"/>
			params = append(params, xmlParam{name: name, value: value})
			search = rest[tagEnd+1:]
			continue
		}
		if strings.HasSuffix(strings.TrimSuffix(tag, ">"), "/") {
			search = rest[tagEnd+1:]
			continue
		}

		// Element-content form: <parameter name="k">v</parameter>
		content := rest[tagEnd+1:]
		closing := strings.Index(content, "</parameter>")
		if closing < 0 {
			break
		}
		params = append(params, xmlParam{name: name, value: strings.TrimSpace(content[:closing])})
		search = content[closing+len("</parameter>"):]
	}
	return params
}

func xmlAttr(tag, attr string) (string, bool) {
	marker := attr + `="`
	start := strings.Index(tag, marker)
	if start < 0 {
		return "", false
	}
	rest := tag[start+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// parseJSONArrays scans for JSON arrays containing call objects. Multiple
// arrays in one message all contribute calls.
func parseJSONArrays(text string) ([]models.ToolCall, string, bool) {
	var calls []models.ToolCall
	cleaned := text
	for _, candidate := range scanBalanced(text, '[', ']') {
		var items []map[string]any
		if err := json.Unmarshal([]byte(candidate), &items); err != nil {
			continue
		}
		found := false
		for _, item := range items {
			if call, ok := callFromObject(item); ok {
				calls = append(calls, call)
				found = true
			}
		}
		if found {
			cleaned = strings.Replace(cleaned, candidate, "", 1)
		}
	}
	if len(calls) == 0 {
		return nil, "", false
	}
	return calls, strings.TrimSpace(cleaned), true
}

func parseSingleJSONObject(text string) (models.ToolCall, string, bool) {
	for _, candidate := range scanBalanced(text, '{', '}') {
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
			continue
		}
		if call, ok := callFromObject(obj); ok {
			cleaned := strings.TrimSpace(strings.Replace(text, candidate, "", 1))
			return call, cleaned, true
		}
	}
	return models.ToolCall{}, "", false
}

// callFromObject interprets an object with a name|tool|function key as a
// tool call. Arguments live under arguments|params|parameters, or are
// inferred from the remaining keys.
func callFromObject(obj map[string]any) (models.ToolCall, bool) {
	var name string
	var nameKey string
	for _, key := range []string{"name", "tool", "function"} {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				name = s
				nameKey = key
				break
			}
			// {"function": {"name": ..., "arguments": ...}} nesting.
			if nested, ok := v.(map[string]any); ok {
				if call, ok := callFromObject(nested); ok {
					return call, true
				}
			}
		}
	}
	if name == "" {
		return models.ToolCall{}, false
	}

	call := models.ToolCall{Name: name, Arguments: map[string]any{}}
	for _, key := range []string{"arguments", "params", "parameters"} {
		if v, ok := obj[key]; ok {
			switch args := v.(type) {
			case map[string]any:
				call.Arguments = args
				return call, true
			case string:
				var decoded map[string]any
				if err := json.Unmarshal([]byte(args), &decoded); err == nil {
					call.Arguments = decoded
					return call, true
				}
			}
		}
	}

	// No argument container: remaining keys are the arguments.
	for key, value := range obj {
		if key == nameKey || key == "id" || key == "type" {
			continue
		}
		call.Arguments[key] = value
	}
	return call, true
}

// scanBalanced returns top-level balanced substrings delimited by open and
// close, respecting JSON string quoting.
func scanBalanced(text string, open, close byte) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case open:
			if depth == 0 {
				start = i
			}
			depth++
		case close:
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					out = append(out, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return out
}

// StripToolCalls removes any tool-call markup and discards the parsed calls.
func StripToolCalls(text string) string {
	cleaned, _ := ParseToolCalls(text)
	return cleaned
}
