// Package mapping translates protocol payloads to the uniform metric and
// command model declared per device type.
package mapping

import (
	"encoding/json"
	"fmt"
)

// MetricDataType declares the expected type of a parsed metric.
type MetricDataType string

const (
	DataTypeFloat   MetricDataType = "float"
	DataTypeInteger MetricDataType = "integer"
	DataTypeBoolean MetricDataType = "boolean"
	DataTypeString  MetricDataType = "string"
	DataTypeBinary  MetricDataType = "binary"
	DataTypeEnum    MetricDataType = "enum"
)

// MetricValue is one parsed telemetry value.
// Exactly one field is meaningful, selected by Kind.
type MetricValue struct {
	Kind    ValueKind
	Float   float64
	Int     int64
	Bool    bool
	Str     string
	Bytes   []byte
	Entries []MetricValue
}

// ValueKind discriminates MetricValue variants.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindFloat
	KindInteger
	KindBoolean
	KindString
	KindBinary
	KindArray
)

// FloatValue builds a float metric value.
func FloatValue(f float64) MetricValue { return MetricValue{Kind: KindFloat, Float: f} }

// IntValue builds an integer metric value.
func IntValue(i int64) MetricValue { return MetricValue{Kind: KindInteger, Int: i} }

// BoolValue builds a boolean metric value.
func BoolValue(b bool) MetricValue { return MetricValue{Kind: KindBoolean, Bool: b} }

// StringValue builds a string metric value.
func StringValue(s string) MetricValue { return MetricValue{Kind: KindString, Str: s} }

// BinaryValue builds a binary metric value.
func BinaryValue(b []byte) MetricValue { return MetricValue{Kind: KindBinary, Bytes: b} }

// NullValue is the null metric value.
func NullValue() MetricValue { return MetricValue{Kind: KindNull} }

// AsFloat coerces the value to float64 where that makes sense.
func (v MetricValue) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindFloat:
		return v.Float, true
	case KindInteger:
		return float64(v.Int), true
	case KindBoolean:
		if v.Bool {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// String renders the value for logs and payload substitution.
func (v MetricValue) String() string {
	switch v.Kind {
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindInteger:
		return fmt.Sprintf("%d", v.Int)
	case KindBoolean:
		return fmt.Sprintf("%t", v.Bool)
	case KindString:
		return v.Str
	case KindBinary:
		return "<binary>"
	case KindArray:
		return fmt.Sprintf("array[%d]", len(v.Entries))
	}
	return "null"
}

// fromJSON converts a decoded JSON value into a MetricValue. Objects are
// kept as their JSON text.
func fromJSON(value any) (MetricValue, error) {
	switch v := value.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(v), nil
	case float64:
		if v == float64(int64(v)) {
			return IntValue(int64(v)), nil
		}
		return FloatValue(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return NullValue(), &Error{Kind: ErrParse, Detail: "invalid number format"}
		}
		return FloatValue(f), nil
	case string:
		return StringValue(v), nil
	case []any:
		entries := make([]MetricValue, 0, len(v))
		for _, item := range v {
			mv, err := fromJSON(item)
			if err != nil {
				return NullValue(), err
			}
			entries = append(entries, mv)
		}
		return MetricValue{Kind: KindArray, Entries: entries}, nil
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return NullValue(), &Error{Kind: ErrSerialize, Detail: err.Error()}
		}
		return StringValue(string(data)), nil
	}
	return NullValue(), &Error{Kind: ErrParse, Detail: fmt.Sprintf("unsupported JSON value %T", value)}
}

// Address is the logical destination of a read or write, rendered from a
// mapping template.
type Address struct {
	// Protocol is "mqtt" or "hass".
	Protocol string

	// Topic is the MQTT topic (mqtt only).
	Topic  string
	QoS    byte
	Retain bool

	// EntityID and Attribute locate a HASS value; for commands EntityID
	// carries "service:<domain>/<service>".
	EntityID  string
	Attribute string
}

// ProtocolMapping binds a device type's capabilities to protocol addresses
// and payload encodings.
type ProtocolMapping interface {
	ProtocolType() string
	DeviceType() string

	// MetricAddress returns the subscription address for a metric.
	MetricAddress(capabilityName string) (Address, bool)

	// CommandAddress returns the publish address for a command.
	CommandAddress(commandName string) (Address, bool)

	// ParseMetric decodes a raw payload into a metric value.
	ParseMetric(capabilityName string, raw []byte) (MetricValue, error)

	// SerializeCommand renders the wire payload for a command.
	SerializeCommand(commandName string, params map[string]MetricValue) ([]byte, error)

	MappedCapabilities() []string
	MappedCommands() []string
}

// ErrorKind classifies mapping failures.
type ErrorKind string

const (
	ErrParse              ErrorKind = "parse"
	ErrSerialize          ErrorKind = "serialize"
	ErrCapabilityNotFound ErrorKind = "capability_not_found"
	ErrCommandNotFound    ErrorKind = "command_not_found"
)

// Error is the typed mapping error.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mapping %s: %s", e.Kind, e.Detail)
}
