package mapping

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// HassAccess selects where a metric value lives in a HASS state response.
type HassAccess struct {
	// Kind is "state", "attribute", or "attribute_path".
	Kind string `yaml:"kind" json:"kind"`
	// Attribute names a single attribute (attribute access).
	Attribute string `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	// Path navigates nested attributes (attribute_path access).
	Path []string `yaml:"path,omitempty" json:"path,omitempty"`
}

// StateAccess reads the entity's state field.
func StateAccess() HassAccess { return HassAccess{Kind: "state"} }

// AttributeAccess reads a named attribute.
func AttributeAccess(name string) HassAccess {
	return HassAccess{Kind: "attribute", Attribute: name}
}

// AttributePathAccess reads a nested attribute path.
func AttributePathAccess(path ...string) HassAccess {
	return HassAccess{Kind: "attribute_path", Path: path}
}

// UnitConversion converts between source and target units.
type UnitConversion string

const (
	ConvertNone                UnitConversion = ""
	ConvertCelsiusToFahrenheit UnitConversion = "c_to_f"
	ConvertFahrenheitToCelsius UnitConversion = "f_to_c"
)

// Apply converts a float value. Non-float values pass through unchanged at
// the call site.
func (c UnitConversion) Apply(value float64) float64 {
	switch c {
	case ConvertCelsiusToFahrenheit:
		return value*9/5 + 32
	case ConvertFahrenheitToCelsius:
		return (value - 32) * 5 / 9
	}
	return value
}

// HassMetricMapping binds one metric to a HASS entity.
type HassMetricMapping struct {
	EntityID       string         `yaml:"entity_id"`
	Access         HassAccess     `yaml:"access"`
	DataType       MetricDataType `yaml:"data_type,omitempty"`
	UnitConversion UnitConversion `yaml:"unit_conversion,omitempty"`
}

// HassCommandMapping binds one command to a HASS service call.
type HassCommandMapping struct {
	EntityID      string            `yaml:"entity_id"`
	Service       string            `yaml:"service"`
	ServiceDomain string            `yaml:"service_domain,omitempty"`
	ParamMapping  map[string]string `yaml:"param_mapping,omitempty"`
}

// HassConfig declares the per-device-type Home Assistant binding.
type HassConfig struct {
	DeviceType      string                        `yaml:"device_type"`
	MetricMappings  map[string]HassMetricMapping  `yaml:"metric_mappings"`
	CommandMappings map[string]HassCommandMapping `yaml:"command_mappings"`
}

// HassMapping is the Home Assistant protocol mapping implementation.
type HassMapping struct {
	cfg HassConfig
}

// NewHass creates a HASS mapping from configuration.
func NewHass(cfg HassConfig) *HassMapping {
	return &HassMapping{cfg: cfg}
}

// ProtocolType implements ProtocolMapping.
func (m *HassMapping) ProtocolType() string { return "hass" }

// DeviceType implements ProtocolMapping.
func (m *HassMapping) DeviceType() string { return m.cfg.DeviceType }

// MetricAddress implements ProtocolMapping.
func (m *HassMapping) MetricAddress(capabilityName string) (Address, bool) {
	mm, ok := m.cfg.MetricMappings[capabilityName]
	if !ok {
		return Address{}, false
	}
	addr := Address{Protocol: "hass", EntityID: mm.EntityID}
	switch mm.Access.Kind {
	case "attribute":
		addr.Attribute = mm.Access.Attribute
	case "attribute_path":
		addr.Attribute = strings.Join(mm.Access.Path, ".")
	}
	return addr, true
}

// CommandAddress implements ProtocolMapping. The address entity carries
// "service:<domain>/<service>"; the domain falls back to the entity's own.
func (m *HassMapping) CommandAddress(commandName string) (Address, bool) {
	cm, ok := m.cfg.CommandMappings[commandName]
	if !ok {
		return Address{}, false
	}
	domain := cm.ServiceDomain
	if domain == "" {
		domain = entityDomain(cm.EntityID)
	}
	return Address{
		Protocol: "hass",
		EntityID: fmt.Sprintf("service:%s/%s", domain, cm.Service),
	}, true
}

func entityDomain(entityID string) string {
	if idx := strings.Index(entityID, "."); idx > 0 {
		return entityID[:idx]
	}
	return "homeassistant"
}

// ParseMetric implements ProtocolMapping. The raw payload is the HASS state
// response {state, attributes{...}}.
func (m *HassMapping) ParseMetric(capabilityName string, raw []byte) (MetricValue, error) {
	mm, ok := m.cfg.MetricMappings[capabilityName]
	if !ok {
		return NullValue(), &Error{Kind: ErrCapabilityNotFound, Detail: capabilityName}
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return NullValue(), &Error{Kind: ErrParse, Detail: "invalid HASS JSON: " + err.Error()}
	}

	var rawValue any
	switch mm.Access.Kind {
	case "attribute":
		attrs, _ := decoded["attributes"].(map[string]any)
		if attrs != nil {
			rawValue = attrs[mm.Access.Attribute]
		}
		if rawValue == nil {
			rawValue = decoded[mm.Access.Attribute]
		}
		if rawValue == nil {
			return NullValue(), &Error{Kind: ErrParse, Detail: fmt.Sprintf("attribute %q not found", mm.Access.Attribute)}
		}
	case "attribute_path":
		var current any = decoded
		if attrs, ok := decoded["attributes"].(map[string]any); ok {
			current = attrs
		}
		for _, segment := range mm.Access.Path {
			obj, ok := current.(map[string]any)
			if !ok {
				return NullValue(), &Error{Kind: ErrParse, Detail: fmt.Sprintf("path segment %q not found", segment)}
			}
			current, ok = obj[segment]
			if !ok {
				return NullValue(), &Error{Kind: ErrParse, Detail: fmt.Sprintf("path segment %q not found", segment)}
			}
		}
		rawValue = current
	default:
		rawValue = decoded["state"]
		if rawValue == nil {
			rawValue = decoded["value"]
		}
		if rawValue == nil {
			return NullValue(), &Error{Kind: ErrParse, Detail: "no state in HASS response"}
		}
	}

	value, err := coerceStateValue(rawValue, mm.DataType)
	if err != nil {
		return NullValue(), err
	}
	if mm.UnitConversion != ConvertNone && value.Kind == KindFloat {
		value = FloatValue(mm.UnitConversion.Apply(value.Float))
	}
	return value, nil
}

// coerceStateValue interprets a HASS scalar per the declared data type.
// HASS serializes most states as text, so strings are coerced; native JSON
// numbers and booleans are accepted directly.
func coerceStateValue(raw any, dataType MetricDataType) (MetricValue, error) {
	text, isText := raw.(string)
	if !isText {
		mv, err := fromJSON(raw)
		if err != nil {
			return NullValue(), err
		}
		if dataType == DataTypeFloat {
			if f, ok := mv.AsFloat(); ok {
				return FloatValue(f), nil
			}
		}
		return mv, nil
	}

	switch dataType {
	case DataTypeBoolean, DataTypeBinary:
		switch strings.ToLower(text) {
		case "on", "true", "yes", "1":
			return BoolValue(true), nil
		case "off", "false", "no", "0":
			return BoolValue(false), nil
		}
		return BoolValue(text != ""), nil
	case DataTypeInteger:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return NullValue(), &Error{Kind: ErrParse, Detail: "not an integer: " + text}
		}
		return IntValue(i), nil
	case DataTypeFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return NullValue(), &Error{Kind: ErrParse, Detail: "not a float: " + text}
		}
		return FloatValue(f), nil
	default:
		return StringValue(text), nil
	}
}

// SerializeCommand implements ProtocolMapping. The output is the HASS
// service call body: entity_id plus remapped parameters.
func (m *HassMapping) SerializeCommand(commandName string, params map[string]MetricValue) ([]byte, error) {
	cm, ok := m.cfg.CommandMappings[commandName]
	if !ok {
		return nil, &Error{Kind: ErrCommandNotFound, Detail: commandName}
	}

	body := map[string]any{"entity_id": cm.EntityID}
	if len(cm.ParamMapping) > 0 {
		for paramKey, serviceKey := range cm.ParamMapping {
			if value, ok := params[paramKey]; ok {
				body[serviceKey] = metricToJSON(value)
			}
		}
	} else {
		for key, value := range params {
			body[key] = metricToJSON(value)
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: ErrSerialize, Detail: err.Error()}
	}
	return data, nil
}

func metricToJSON(value MetricValue) any {
	switch value.Kind {
	case KindString:
		return value.Str
	case KindInteger:
		return value.Int
	case KindFloat:
		return value.Float
	case KindBoolean:
		return value.Bool
	case KindArray:
		out := make([]any, 0, len(value.Entries))
		for _, entry := range value.Entries {
			out = append(out, metricToJSON(entry))
		}
		return out
	case KindBinary:
		return "<binary>"
	}
	return nil
}

// MappedCapabilities implements ProtocolMapping.
func (m *HassMapping) MappedCapabilities() []string {
	out := make([]string, 0, len(m.cfg.MetricMappings))
	for name := range m.cfg.MetricMappings {
		out = append(out, name)
	}
	return out
}

// MappedCommands implements ProtocolMapping.
func (m *HassMapping) MappedCommands() []string {
	out := make([]string, 0, len(m.cfg.CommandMappings))
	for name := range m.cfg.CommandMappings {
		out = append(out, name)
	}
	return out
}
