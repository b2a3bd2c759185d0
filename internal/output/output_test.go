package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"text", "json", "yaml"} {
		if _, err := ParseFormat(name); err != nil {
			t.Fatalf("ParseFormat(%s): %v", name, err)
		}
	}
	if _, err := ParseFormat("toon"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	w := New(FormatJSON, WithOutput(&buf))

	if err := w.Write(map[string]any{"risk_level": "HIGH", "estimated_rows": 3214}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json output: %v", err)
	}
	if decoded["risk_level"] != "HIGH" {
		t.Fatalf("unexpected payload: %v", decoded)
	}
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	w := New(FormatYAML, WithOutput(&buf))

	type payload struct {
		RiskLevel string `json:"risk_level"`
	}
	if err := w.Write(payload{RiskLevel: "LOW"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// JSON tags drive the YAML key names.
	if !strings.Contains(buf.String(), "risk_level: LOW") {
		t.Fatalf("unexpected yaml: %q", buf.String())
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("yaml output must end with newline")
	}
}

func TestTextf_OnlyInTextMode(t *testing.T) {
	var textBuf, jsonBuf bytes.Buffer

	New(FormatText, WithOutput(&textBuf)).Textf("risk: %s", "HIGH")
	if got := textBuf.String(); got != "risk: HIGH\n" {
		t.Fatalf("unexpected text output: %q", got)
	}

	New(FormatJSON, WithOutput(&jsonBuf)).Textf("risk: %s", "HIGH")
	if jsonBuf.Len() != 0 {
		t.Fatalf("Textf must be silent outside text mode, got %q", jsonBuf.String())
	}
}

func TestError_TextGoesToErrOut(t *testing.T) {
	var out, errOut bytes.Buffer
	w := New(FormatText, WithOutput(&out), WithErrorOutput(&errOut))

	w.Error(errors.New("boom"))
	if out.Len() != 0 {
		t.Fatalf("stdout should stay clean, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "boom") {
		t.Fatalf("error text missing: %q", errOut.String())
	}
}

func TestError_JSONPayload(t *testing.T) {
	var buf bytes.Buffer
	w := New(FormatJSON, WithOutput(&buf))

	w.Error(errors.New("boom"))

	var payload ErrorPayload
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json error payload: %v", err)
	}
	if payload.Message != "boom" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
