package rules

import (
	"testing"
	"time"
)

func TestParseSimpleRule(t *testing.T) {
	rule, err := Parse(`RULE "High Temp"
WHEN sensor.temperature > 50
DO
  NOTIFY "too hot"
END`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rule.Name != "High Temp" {
		t.Errorf("name = %q", rule.Name)
	}
	cond := rule.Condition
	if cond.Kind != CondDevice || cond.Device.DeviceID != "sensor" || cond.Device.Metric != "temperature" {
		t.Errorf("condition = %+v", cond)
	}
	if cond.Device.Op != OpGreater || cond.Device.Threshold != 50 {
		t.Errorf("op/threshold = %v %v", cond.Device.Op, cond.Device.Threshold)
	}
	if len(rule.Actions) != 1 || rule.Actions[0].Type != ActionNotify || rule.Actions[0].Notify.Message != "too hot" {
		t.Errorf("actions = %+v", rule.Actions)
	}
}

func TestParseRuleWithDuration(t *testing.T) {
	rule, err := Parse(`RULE "Hot"
WHEN sensor.temperature > 50
FOR 2 seconds
DO
  NOTIFY "high"
END`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rule.ForDuration != 2*time.Second {
		t.Errorf("for = %v", rule.ForDuration)
	}
}

func TestParseDurationUnits(t *testing.T) {
	cases := []struct {
		text string
		want time.Duration
	}{
		{"5 minutes", 5 * time.Minute},
		{"1 minute", time.Minute},
		{"2 hours", 2 * time.Hour},
		{"30 seconds", 30 * time.Second},
	}
	for _, tc := range cases {
		got, ok := parseDuration(tc.text)
		if !ok || got != tc.want {
			t.Errorf("parseDuration(%q) = %v, %v; want %v", tc.text, got, ok, tc.want)
		}
	}
	if _, ok := parseDuration("5 fortnights"); ok {
		t.Error("unknown unit should fail")
	}
}

func TestParseExecuteAction(t *testing.T) {
	rule, err := Parse(`RULE "Fan"
WHEN room.temperature >= 30
DO
  EXECUTE fan.set_speed(speed=100, mode="auto")
END`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	action := rule.Actions[0]
	if action.Type != ActionExecute {
		t.Fatalf("type = %v", action.Type)
	}
	if action.Execute.DeviceID != "fan" || action.Execute.Command != "set_speed" {
		t.Errorf("target = %s.%s", action.Execute.DeviceID, action.Execute.Command)
	}
	if action.Execute.Params["speed"] != int64(100) {
		t.Errorf("speed = %v (%T)", action.Execute.Params["speed"], action.Execute.Params["speed"])
	}
	if action.Execute.Params["mode"] != "auto" {
		t.Errorf("mode = %v", action.Execute.Params["mode"])
	}
}

func TestAllComparisonOperators(t *testing.T) {
	for _, op := range []CompareOp{OpGreaterEqual, OpLessEqual, OpEqual, OpNotEqual, OpGreater, OpLess} {
		dsl := `RULE "ops"` + "\nWHEN dev.metric " + string(op) + " 10\nDO\n NOTIFY \"x\"\nEND"
		rule, err := Parse(dsl)
		if err != nil {
			t.Fatalf("parse %s: %v", op, err)
		}
		if rule.Condition.Device.Op != op {
			t.Errorf("op %s parsed as %s", op, rule.Condition.Device.Op)
		}
	}
}

func TestParseNestedConditions(t *testing.T) {
	rule, err := Parse(`RULE "combo"
WHEN room.temp > 30 AND (room.humidity > 70 OR room.co2 > 1000)
DO
  NOTIFY "stuffy"
END`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cond := rule.Condition
	if cond.Kind != CondAnd || len(cond.All) != 2 {
		t.Fatalf("condition = %+v", cond)
	}
	if cond.All[1].Kind != CondOr || len(cond.All[1].Any) != 2 {
		t.Errorf("nested OR = %+v", cond.All[1])
	}
}

func TestParseNotCondition(t *testing.T) {
	rule, err := Parse(`RULE "neg"
WHEN NOT (door.open == 1)
DO
  NOTIFY "closed"
END`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rule.Condition.Kind != CondNot {
		t.Errorf("condition = %+v", rule.Condition)
	}
}

func TestParseRangeCondition(t *testing.T) {
	rule, err := Parse(`RULE "band"
WHEN sensor.temp IN [18, 24]
DO
  NOTIFY "comfortable"
END`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cond := rule.Condition
	if cond.Kind != CondRange || cond.Range.Min != 18 || cond.Range.Max != 24 {
		t.Errorf("range = %+v", cond)
	}
}

func TestPreprocessMarkdownFences(t *testing.T) {
	input := "```dsl\nRULE \"x\"\nWHEN a.b > 1\nDO\n NOTIFY \"m\"\nEND\n```"
	rule, err := Parse(input)
	if err != nil {
		t.Fatalf("parse fenced input: %v", err)
	}
	if rule.Name != "x" {
		t.Errorf("name = %q", rule.Name)
	}
}

func TestPreprocessEscapes(t *testing.T) {
	input := `RULE \"x\"\nWHEN a.b > 1\nDO\n NOTIFY \"m\"\nEND`
	rule, err := Parse(input)
	if err != nil {
		t.Fatalf("parse escaped input: %v", err)
	}
	if rule.Name != "x" || rule.Actions[0].Notify.Message != "m" {
		t.Errorf("rule = %+v", rule)
	}
}

func TestPreprocessJSONWrapped(t *testing.T) {
	input := `"RULE \"x\"\nWHEN a.b > 1\nDO\n NOTIFY \"m\"\nEND"`
	rule, err := Parse(input)
	if err != nil {
		t.Fatalf("parse JSON-wrapped input: %v", err)
	}
	if rule.Name != "x" {
		t.Errorf("name = %q", rule.Name)
	}
}

func TestPreprocessLowercaseKeywords(t *testing.T) {
	input := `rule "x"
when a.b > 1
do
  notify "m"
end`
	rule, err := Parse(input)
	if err != nil {
		t.Fatalf("parse lowercase input: %v", err)
	}
	if rule.Name != "x" || len(rule.Actions) != 1 {
		t.Errorf("rule = %+v", rule)
	}
}

func TestPreprocessKeepsNonKeywordCase(t *testing.T) {
	rule, err := Parse(`RULE "Case"
WHEN Sensor.Temperature > 1
DO
  NOTIFY "MiXeD"
END`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rule.Condition.Device.DeviceID != "Sensor" || rule.Condition.Device.Metric != "Temperature" {
		t.Errorf("identifier case altered: %+v", rule.Condition.Device)
	}
	if rule.Actions[0].Notify.Message != "MiXeD" {
		t.Errorf("message case altered: %q", rule.Actions[0].Notify.Message)
	}
}

func TestParseMissingName(t *testing.T) {
	if _, err := Parse("WHEN a.b > 1\nDO\nEND"); err == nil {
		t.Error("missing RULE line should fail")
	}
}

func TestParseMissingWhen(t *testing.T) {
	if _, err := Parse(`RULE "x"` + "\nDO\nEND"); err == nil {
		t.Error("missing WHEN clause should fail")
	}
}

func TestParseAllActionKinds(t *testing.T) {
	rule, err := Parse(`RULE "kitchen sink"
WHEN a.b > 1
DO
  NOTIFY "n"
  EXECUTE dev.cmd(x=1)
  LOG warning, severity="high"
  SET dev.prop=5
  DELAY 3 seconds
  TRIGGER_WORKFLOW wf-9
  CREATE_ALERT "boom", severity="critical"
  HTTP POST https://example.com/hook
END`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	wantTypes := []ActionType{
		ActionNotify, ActionExecute, ActionLog, ActionSet,
		ActionDelay, ActionTriggerWorkflow, ActionCreateAlert, ActionHTTPRequest,
	}
	if len(rule.Actions) != len(wantTypes) {
		t.Fatalf("got %d actions, want %d", len(rule.Actions), len(wantTypes))
	}
	for i, want := range wantTypes {
		if rule.Actions[i].Type != want {
			t.Errorf("action %d type = %v, want %v", i, rule.Actions[i].Type, want)
		}
	}
	if rule.Actions[2].Log.Severity != "high" {
		t.Errorf("log severity = %q", rule.Actions[2].Log.Severity)
	}
	if rule.Actions[6].CreateAlert.Severity != "critical" {
		t.Errorf("alert severity = %q", rule.Actions[6].CreateAlert.Severity)
	}
}

func TestRenderReparseRoundTrip(t *testing.T) {
	inputs := []string{
		`RULE "simple"
WHEN sensor.temperature > 50
FOR 2 seconds
DO
  NOTIFY "high"
END`,
		`RULE "nested"
WHEN a.x > 1 AND (b.y < 2 OR c.z == 3)
DO
  EXECUTE fan.on(speed=2)
  LOG info
END`,
		`RULE "band"
WHEN sensor.temp IN [18, 24]
DO
  NOTIFY "ok"
END`,
	}
	for _, input := range inputs {
		parsed, err := Parse(input)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		compiled := FromParsed(parsed)
		rendered := compiled.Render()
		reparsed, err := Parse(rendered)
		if err != nil {
			t.Fatalf("re-parse of %q: %v", rendered, err)
		}
		if reparsed.Name != parsed.Name {
			t.Errorf("name drifted: %q vs %q", reparsed.Name, parsed.Name)
		}
		if !reparsed.Condition.Equal(parsed.Condition) {
			t.Errorf("condition drifted:\n%+v\nvs\n%+v", reparsed.Condition, parsed.Condition)
		}
		if reparsed.ForDuration != parsed.ForDuration {
			t.Errorf("duration drifted: %v vs %v", reparsed.ForDuration, parsed.ForDuration)
		}
		if len(reparsed.Actions) != len(parsed.Actions) {
			t.Errorf("action count drifted: %d vs %d", len(reparsed.Actions), len(parsed.Actions))
		}
	}
}
