package mapping

import (
	"encoding/json"
	"testing"
)

func testMQTTMapping() *MQTTMapping {
	return NewMQTT(MQTTConfig{
		DeviceType: "env_sensor",
		MetricTopics: map[string]string{
			"temperature": "sensors/${device_id}/temp",
			"payload":     "sensors/${device_id}/raw",
		},
		CommandTopics: map[string]string{
			"configure": "sensors/${device_id}/cmd",
		},
		PayloadTemplates: map[string]string{
			"configure": `{"action":"set","interval":${interval}}`,
			"label":     `{"name":${name},"tags":${tags}}`,
		},
		MetricParsers: map[string]ValueParser{
			"temperature": JSONPathParser("$.sensors.temp"),
		},
	})
}

func TestRenderTopic(t *testing.T) {
	m := testMQTTMapping()
	topic, ok := m.MetricTopic("dev42", "temperature")
	if !ok || topic != "sensors/dev42/temp" {
		t.Errorf("MetricTopic = %q, %v", topic, ok)
	}
	if _, ok := m.MetricTopic("dev42", "unknown"); ok {
		t.Error("unknown metric should not resolve")
	}
}

func TestParseJSONPath(t *testing.T) {
	m := testMQTTMapping()
	payload := []byte(`{"sensors":{"temp":23.5,"humidity":60}}`)
	value, err := m.ParseMetric("temperature", payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.Kind != KindFloat || value.Float != 23.5 {
		t.Errorf("value = %+v, want Float(23.5)", value)
	}
}

func TestParseJSONPathMissingKey(t *testing.T) {
	m := testMQTTMapping()
	_, err := m.ParseMetric("temperature", []byte(`{"sensors":{"humidity":60}}`))
	if err == nil {
		t.Fatal("expected parse error for missing key")
	}
}

func TestParseDirectJSONNumber(t *testing.T) {
	m := testMQTTMapping()
	value, err := m.ParseMetric("payload", []byte(`42.25`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	f, ok := value.AsFloat()
	if !ok || f != 42.25 {
		t.Errorf("direct JSON number parsed as %+v", value)
	}
}

func TestParseDirectFallbackString(t *testing.T) {
	m := testMQTTMapping()
	value, err := m.ParseMetric("payload", []byte("not json at all"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.Kind != KindString || value.Str != "not json at all" {
		t.Errorf("fallback = %+v", value)
	}
}

func TestParseBinaryFormats(t *testing.T) {
	cases := []struct {
		name   string
		format BinaryFormat
		data   []byte
		want   MetricValue
	}{
		{"float32le", BinaryFloat32LE, []byte{0x00, 0x00, 0xBC, 0x41}, FloatValue(23.5)},
		{"int16le", BinaryInt16LE, []byte{0xE8, 0x03}, IntValue(1000)},
		{"int32le", BinaryInt32LE, []byte{0x40, 0x42, 0x0F, 0x00}, IntValue(1000000)},
		{"float32be", BinaryFloat32BE, []byte{0x41, 0xBC, 0x00, 0x00}, FloatValue(23.5)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseBinary(tc.data, tc.format)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.Kind != tc.want.Kind || got.Float != tc.want.Float || got.Int != tc.want.Int {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseBinaryShortData(t *testing.T) {
	if _, err := parseBinary([]byte{0x01}, BinaryFloat32LE); err == nil {
		t.Error("short float32 payload should fail")
	}
	if _, err := parseBinary([]byte{0x01}, BinaryInt16LE); err == nil {
		t.Error("short int16 payload should fail")
	}
}

func TestHexStringRoundTrip(t *testing.T) {
	value, err := parseBinary([]byte("0x 1A 2B"), BinaryHexString)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []byte{0x1A, 0x2B}
	if value.Kind != KindBinary || len(value.Bytes) != 2 || value.Bytes[0] != want[0] || value.Bytes[1] != want[1] {
		t.Fatalf("hex parse = %+v, want %v", value, want)
	}
	if enc := EncodeHex(value.Bytes); enc != "1A2B" {
		t.Errorf("EncodeHex = %q, want 1A2B", enc)
	}
}

func TestHexStringOddLength(t *testing.T) {
	if _, err := parseBinary([]byte("1A2"), BinaryHexString); err == nil {
		t.Error("odd-length hex should fail")
	}
}

func TestBase64Hex(t *testing.T) {
	// base64("1A2B") = "MUEyQg=="
	value, err := parseBinary([]byte("MUEyQg=="), BinaryBase64Hex)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.Kind != KindBinary || value.Bytes[0] != 0x1A || value.Bytes[1] != 0x2B {
		t.Errorf("base64hex = %+v", value)
	}
}

func TestSerializeCommand(t *testing.T) {
	m := testMQTTMapping()
	payload, err := m.SerializeCommand("configure", map[string]MetricValue{
		"interval": IntValue(60),
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if string(payload) != `{"action":"set","interval":60}` {
		t.Errorf("payload = %s", payload)
	}
	if !json.Valid(payload) {
		t.Error("payload must be valid JSON")
	}
}

func TestSerializeCommandTypes(t *testing.T) {
	m := testMQTTMapping()
	payload, err := m.SerializeCommand("label", map[string]MetricValue{
		"name": StringValue("kitchen"),
		"tags": {Kind: KindArray, Entries: []MetricValue{StringValue("a"), IntValue(2)}},
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("rendered payload is not JSON: %v\n%s", err, payload)
	}
	if decoded["name"] != "kitchen" {
		t.Errorf("name = %v", decoded["name"])
	}
}

func TestSerializeCommandInvalidJSON(t *testing.T) {
	m := NewMQTT(MQTTConfig{
		DeviceType:       "x",
		PayloadTemplates: map[string]string{"bad": `{"broken":${value}`},
		CommandTopics:    map[string]string{"bad": "t"},
	})
	if _, err := m.SerializeCommand("bad", map[string]MetricValue{"value": IntValue(1)}); err == nil {
		t.Error("unbalanced JSON template should fail validation")
	}
}

func TestSerializeCommandUnknown(t *testing.T) {
	m := testMQTTMapping()
	if _, err := m.SerializeCommand("nope", nil); err == nil {
		t.Error("unknown command should fail")
	}
}
