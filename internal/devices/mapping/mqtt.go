package mapping

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ParserKind selects how an MQTT payload is decoded.
type ParserKind string

const (
	// ParserDirect treats the payload as the value: JSON scalar first,
	// UTF-8 string fallback.
	ParserDirect ParserKind = "direct"
	// ParserJSONPath extracts a value by dot path from a JSON object.
	ParserJSONPath ParserKind = "json_path"
	// ParserBinary decodes the payload per a BinaryFormat.
	ParserBinary ParserKind = "binary"
)

// BinaryFormat enumerates supported binary payload encodings.
type BinaryFormat string

const (
	BinaryRaw       BinaryFormat = "raw"
	BinaryFloat32LE BinaryFormat = "float32_le"
	BinaryFloat64LE BinaryFormat = "float64_le"
	BinaryInt16LE   BinaryFormat = "int16_le"
	BinaryInt32LE   BinaryFormat = "int32_le"
	BinaryFloat32BE BinaryFormat = "float32_be"
	BinaryFloat64BE BinaryFormat = "float64_be"
	BinaryHexString BinaryFormat = "hex_string"
	BinaryBase64Hex BinaryFormat = "base64_hex"
)

// ValueParser describes how to extract a metric value from a payload.
type ValueParser struct {
	Kind   ParserKind   `yaml:"kind" json:"kind"`
	Path   string       `yaml:"path,omitempty" json:"path,omitempty"`
	Format BinaryFormat `yaml:"format,omitempty" json:"format,omitempty"`
}

// DirectParser returns the default pass-through parser.
func DirectParser() ValueParser { return ValueParser{Kind: ParserDirect} }

// JSONPathParser returns a dot-path parser.
func JSONPathParser(path string) ValueParser {
	return ValueParser{Kind: ParserJSONPath, Path: path}
}

// BinaryParser returns a binary parser for the given format.
func BinaryParser(format BinaryFormat) ValueParser {
	return ValueParser{Kind: ParserBinary, Format: format}
}

// MQTTConfig declares the per-device-type MQTT binding.
type MQTTConfig struct {
	DeviceType       string                 `yaml:"device_type"`
	MetricTopics     map[string]string      `yaml:"metric_topics"`
	CommandTopics    map[string]string      `yaml:"command_topics"`
	PayloadTemplates map[string]string      `yaml:"payload_templates"`
	MetricParsers    map[string]ValueParser `yaml:"metric_parsers"`
	DefaultQoS       byte                   `yaml:"default_qos"`
	DefaultRetain    bool                   `yaml:"default_retain"`
}

// MQTTMapping is the MQTT protocol mapping implementation.
type MQTTMapping struct {
	cfg MQTTConfig
}

// NewMQTT creates an MQTT mapping from configuration.
func NewMQTT(cfg MQTTConfig) *MQTTMapping {
	return &MQTTMapping{cfg: cfg}
}

// ProtocolType implements ProtocolMapping.
func (m *MQTTMapping) ProtocolType() string { return "mqtt" }

// DeviceType implements ProtocolMapping.
func (m *MQTTMapping) DeviceType() string { return m.cfg.DeviceType }

// RenderTopic substitutes the device id into a topic template.
func RenderTopic(template, deviceID string) string {
	out := strings.ReplaceAll(template, "${device_id}", deviceID)
	return strings.ReplaceAll(out, "${id}", deviceID)
}

// MetricTopic returns the concrete topic for a device's metric.
func (m *MQTTMapping) MetricTopic(deviceID, capabilityName string) (string, bool) {
	template, ok := m.cfg.MetricTopics[capabilityName]
	if !ok {
		return "", false
	}
	return RenderTopic(template, deviceID), true
}

// CommandTopic returns the concrete topic for a device's command.
func (m *MQTTMapping) CommandTopic(deviceID, commandName string) (string, bool) {
	template, ok := m.cfg.CommandTopics[commandName]
	if !ok {
		return "", false
	}
	return RenderTopic(template, deviceID), true
}

// MetricAddress implements ProtocolMapping.
func (m *MQTTMapping) MetricAddress(capabilityName string) (Address, bool) {
	topic, ok := m.cfg.MetricTopics[capabilityName]
	if !ok {
		return Address{}, false
	}
	return Address{Protocol: "mqtt", Topic: topic, QoS: m.cfg.DefaultQoS, Retain: m.cfg.DefaultRetain}, true
}

// CommandAddress implements ProtocolMapping.
func (m *MQTTMapping) CommandAddress(commandName string) (Address, bool) {
	topic, ok := m.cfg.CommandTopics[commandName]
	if !ok {
		return Address{}, false
	}
	return Address{Protocol: "mqtt", Topic: topic, QoS: m.cfg.DefaultQoS, Retain: m.cfg.DefaultRetain}, true
}

// ParseMetric implements ProtocolMapping.
func (m *MQTTMapping) ParseMetric(capabilityName string, raw []byte) (MetricValue, error) {
	parser, ok := m.cfg.MetricParsers[capabilityName]
	if !ok {
		parser = DirectParser()
	}
	switch parser.Kind {
	case ParserJSONPath:
		return parseJSONPath(raw, parser.Path)
	case ParserBinary:
		return parseBinary(raw, parser.Format)
	default:
		return parseDirect(raw)
	}
}

func parseDirect(raw []byte) (MetricValue, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return fromJSON(decoded)
	}
	return StringValue(string(raw)), nil
}

func parseJSONPath(raw []byte, path string) (MetricValue, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return NullValue(), &Error{Kind: ErrParse, Detail: "invalid JSON: " + err.Error()}
	}

	// $.value, value, and $ are shortcuts for the root.
	if path == "$.value" || path == "value" || path == "$" {
		return fromJSON(decoded)
	}

	current := decoded
	for _, part := range strings.Split(strings.TrimPrefix(path, "$."), ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return NullValue(), &Error{Kind: ErrParse, Detail: fmt.Sprintf("cannot access %q on non-object", part)}
		}
		current, ok = obj[part]
		if !ok {
			return NullValue(), &Error{Kind: ErrParse, Detail: fmt.Sprintf("key %q not found in JSON", part)}
		}
	}
	return fromJSON(current)
}

func parseBinary(raw []byte, format BinaryFormat) (MetricValue, error) {
	switch format {
	case BinaryRaw:
		if decoded, err := base64.StdEncoding.DecodeString(string(raw)); err == nil {
			return BinaryValue(decoded), nil
		}
		return BinaryValue(append([]byte(nil), raw...)), nil
	case BinaryFloat32LE:
		if len(raw) < 4 {
			return NullValue(), &Error{Kind: ErrParse, Detail: "insufficient data for float32"}
		}
		return FloatValue(float64(math.Float32frombits(binary.LittleEndian.Uint32(raw)))), nil
	case BinaryFloat64LE:
		if len(raw) < 8 {
			return NullValue(), &Error{Kind: ErrParse, Detail: "insufficient data for float64"}
		}
		return FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(raw))), nil
	case BinaryInt16LE:
		if len(raw) < 2 {
			return NullValue(), &Error{Kind: ErrParse, Detail: "insufficient data for int16"}
		}
		return IntValue(int64(int16(binary.LittleEndian.Uint16(raw)))), nil
	case BinaryInt32LE:
		if len(raw) < 4 {
			return NullValue(), &Error{Kind: ErrParse, Detail: "insufficient data for int32"}
		}
		return IntValue(int64(int32(binary.LittleEndian.Uint32(raw)))), nil
	case BinaryFloat32BE:
		if len(raw) < 4 {
			return NullValue(), &Error{Kind: ErrParse, Detail: "insufficient data for float32 BE"}
		}
		return FloatValue(float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))), nil
	case BinaryFloat64BE:
		if len(raw) < 8 {
			return NullValue(), &Error{Kind: ErrParse, Detail: "insufficient data for float64 BE"}
		}
		return FloatValue(math.Float64frombits(binary.BigEndian.Uint64(raw))), nil
	case BinaryHexString:
		return parseHexString(raw)
	case BinaryBase64Hex:
		decoded, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return NullValue(), &Error{Kind: ErrParse, Detail: "invalid base64 encoding"}
		}
		return parseHexString(decoded)
	}
	return NullValue(), &Error{Kind: ErrParse, Detail: fmt.Sprintf("unknown binary format %q", format)}
}

func parseHexString(raw []byte) (MetricValue, error) {
	if !utf8.Valid(raw) {
		return NullValue(), &Error{Kind: ErrParse, Detail: "invalid UTF-8 in hex string"}
	}
	clean := strings.TrimSpace(string(raw))
	clean = strings.TrimPrefix(clean, "0x")
	replacer := strings.NewReplacer(" ", "", "\n", "", "\r", "", "\t", "")
	clean = replacer.Replace(clean)

	if len(clean)%2 != 0 {
		return NullValue(), &Error{Kind: ErrParse, Detail: "hex string must have even length"}
	}

	out := make([]byte, 0, len(clean)/2)
	for i := 0; i < len(clean); i += 2 {
		var b byte
		if _, err := fmt.Sscanf(clean[i:i+2], "%02x", &b); err != nil {
			return NullValue(), &Error{Kind: ErrParse, Detail: fmt.Sprintf("invalid hex characters at position %d", i)}
		}
		out = append(out, b)
	}
	return BinaryValue(out), nil
}

// EncodeHex renders bytes as an uppercase hex string.
func EncodeHex(data []byte) string {
	return strings.ToUpper(fmt.Sprintf("%x", data))
}

// SerializeCommand implements ProtocolMapping. The payload template's
// ${param} placeholders are substituted; if the result begins with '{' or
// '[' it must parse as JSON.
func (m *MQTTMapping) SerializeCommand(commandName string, params map[string]MetricValue) ([]byte, error) {
	template, ok := m.cfg.PayloadTemplates[commandName]
	if !ok {
		return nil, &Error{Kind: ErrCommandNotFound, Detail: commandName}
	}

	payload := template
	for key, value := range params {
		payload = strings.ReplaceAll(payload, "${"+key+"}", renderParam(value))
	}

	if strings.HasPrefix(payload, "{") || strings.HasPrefix(payload, "[") {
		if !json.Valid([]byte(payload)) {
			return nil, &Error{Kind: ErrSerialize, Detail: "rendered payload is not valid JSON: " + payload}
		}
	}
	return []byte(payload), nil
}

func renderParam(value MetricValue) string {
	switch value.Kind {
	case KindString:
		if strings.HasPrefix(value.Str, `"`) || strings.HasPrefix(value.Str, "{") || strings.HasPrefix(value.Str, "[") {
			return value.Str
		}
		return `"` + value.Str + `"`
	case KindInteger:
		return fmt.Sprintf("%d", value.Int)
	case KindFloat:
		return fmt.Sprintf("%g", value.Float)
	case KindBoolean:
		return fmt.Sprintf("%t", value.Bool)
	case KindArray:
		parts := make([]string, 0, len(value.Entries))
		for _, entry := range value.Entries {
			switch entry.Kind {
			case KindString:
				parts = append(parts, `"`+entry.Str+`"`)
			case KindInteger, KindFloat, KindBoolean:
				parts = append(parts, renderParam(entry))
			default:
				parts = append(parts, "null")
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindBinary:
		return `"<binary>"`
	}
	return "null"
}

// MappedCapabilities implements ProtocolMapping.
func (m *MQTTMapping) MappedCapabilities() []string {
	out := make([]string, 0, len(m.cfg.MetricTopics))
	for name := range m.cfg.MetricTopics {
		out = append(out, name)
	}
	return out
}

// MappedCommands implements ProtocolMapping.
func (m *MQTTMapping) MappedCommands() []string {
	out := make([]string, 0, len(m.cfg.CommandTopics))
	for name := range m.cfg.CommandTopics {
		out = append(out, name)
	}
	return out
}
