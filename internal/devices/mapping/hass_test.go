package mapping

import (
	"encoding/json"
	"testing"
)

func testHassMapping() *HassMapping {
	return NewHass(HassConfig{
		DeviceType: "thermostat",
		MetricMappings: map[string]HassMetricMapping{
			"temperature": {
				EntityID: "climate.living_room",
				Access:   AttributeAccess("current_temperature"),
				DataType: DataTypeFloat,
			},
			"power": {
				EntityID: "switch.living_room",
				Access:   StateAccess(),
				DataType: DataTypeBoolean,
			},
			"temperature_f": {
				EntityID:       "climate.living_room",
				Access:         AttributeAccess("current_temperature"),
				DataType:       DataTypeFloat,
				UnitConversion: ConvertCelsiusToFahrenheit,
			},
			"battery": {
				EntityID: "sensor.door",
				Access:   AttributePathAccess("device", "battery_level"),
				DataType: DataTypeInteger,
			},
		},
		CommandMappings: map[string]HassCommandMapping{
			"set_temperature": {
				EntityID:     "climate.living_room",
				Service:      "set_temperature",
				ParamMapping: map[string]string{"target": "temperature"},
			},
			"turn_on": {
				EntityID: "switch.living_room",
				Service:  "turn_on",
			},
		},
	})
}

func TestHassParseState(t *testing.T) {
	m := testHassMapping()
	value, err := m.ParseMetric("power", []byte(`{"state":"on","attributes":{}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.Kind != KindBoolean || !value.Bool {
		t.Errorf("power = %+v, want true", value)
	}
}

func TestHassBooleanCoercions(t *testing.T) {
	m := testHassMapping()
	cases := map[string]bool{
		"on": true, "off": false, "true": true, "false": false,
		"yes": true, "no": false, "1": true, "0": false,
	}
	for state, want := range cases {
		payload, _ := json.Marshal(map[string]any{"state": state})
		value, err := m.ParseMetric("power", payload)
		if err != nil {
			t.Fatalf("parse %q: %v", state, err)
		}
		if value.Bool != want {
			t.Errorf("state %q parsed as %v, want %v", state, value.Bool, want)
		}
	}
}

func TestHassParseAttribute(t *testing.T) {
	m := testHassMapping()
	payload := []byte(`{"state":"heat","attributes":{"current_temperature":21.5}}`)
	value, err := m.ParseMetric("temperature", payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.Kind != KindFloat || value.Float != 21.5 {
		t.Errorf("temperature = %+v, want Float(21.5)", value)
	}
}

func TestHassAttributePath(t *testing.T) {
	m := testHassMapping()
	payload := []byte(`{"state":"closed","attributes":{"device":{"battery_level":"87"}}}`)
	value, err := m.ParseMetric("battery", payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.Kind != KindInteger || value.Int != 87 {
		t.Errorf("battery = %+v, want Integer(87)", value)
	}
}

func TestHassUnitConversionFloatOnly(t *testing.T) {
	m := testHassMapping()
	payload := []byte(`{"attributes":{"current_temperature":20}}`)
	value, err := m.ParseMetric("temperature_f", payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if value.Kind != KindFloat || value.Float != 68 {
		t.Errorf("converted = %+v, want Float(68)", value)
	}
}

func TestHassMissingAttribute(t *testing.T) {
	m := testHassMapping()
	if _, err := m.ParseMetric("temperature", []byte(`{"state":"idle","attributes":{}}`)); err == nil {
		t.Error("missing attribute should fail")
	}
}

func TestHassCommandAddress(t *testing.T) {
	m := testHassMapping()
	addr, ok := m.CommandAddress("turn_on")
	if !ok {
		t.Fatal("command not found")
	}
	if addr.EntityID != "service:switch/turn_on" {
		t.Errorf("address = %q", addr.EntityID)
	}
}

func TestHassSerializeCommand(t *testing.T) {
	m := testHassMapping()
	payload, err := m.SerializeCommand("set_temperature", map[string]MetricValue{
		"target": FloatValue(22.5),
	})
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["entity_id"] != "climate.living_room" {
		t.Errorf("entity_id = %v", body["entity_id"])
	}
	if body["temperature"] != 22.5 {
		t.Errorf("remapped param = %v, want 22.5", body["temperature"])
	}
	if _, exists := body["target"]; exists {
		t.Error("unmapped original key should not appear")
	}
}
