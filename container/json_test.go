package container

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestWriterScalarsRoundTrip(t *testing.T) {
	w := NewWriter()
	w.BeginObject()
	w.Key("name")
	w.String("α")
	w.Key("note")
	w.String("line1\nline2")
	w.Key("count")
	w.Uint(3)
	w.Key("delta")
	w.Int(-5)
	w.Key("active")
	w.Bool(true)
	w.Key("missing")
	w.Null()
	w.EndObject()

	doc := w.Finalize(false)

	var decoded map[string]any
	if err := json.Unmarshal(doc, &decoded); err != nil {
		t.Fatalf("emitted document did not parse as JSON: %v\n%s", err, doc)
	}
	if decoded["name"] != "α" {
		t.Fatalf("name = %v, want α", decoded["name"])
	}
	if decoded["note"] != "line1\nline2" {
		t.Fatalf("note = %q, want line1\\nline2", decoded["note"])
	}
	if !strings.Contains(string(doc), "α") {
		t.Fatal("expected raw UTF-8 bytes for alpha in output, found escape sequence instead")
	}
	if !strings.Contains(string(doc), `\n`) {
		t.Fatal("expected \\n escape sequence for embedded newline")
	}
}

func TestWriterFinalizeWithBOM(t *testing.T) {
	w := NewWriter()
	w.BeginObject()
	w.EndObject()
	doc := w.Finalize(true)
	if len(doc) < 3 || doc[0] != 0xEF || doc[1] != 0xBB || doc[2] != 0xBF {
		t.Fatalf("Finalize(true) missing BOM prefix: %v", doc[:min(3, len(doc))])
	}
}

func TestWriterEscapesLineSeparatorsWhenEnabled(t *testing.T) {
	w := NewWriter()
	w.EscapeLineSeparators = true
	w.BeginObject()
	w.Key("s")
	w.String(string(rune(0x2028)))
	w.EndObject()
	doc := string(w.Finalize(false))
	if !strings.Contains(doc, `\u2028`) {
		t.Fatalf("expected escaped U+2028, got %s", doc)
	}
}

func TestWriterArrayAndNesting(t *testing.T) {
	w := NewWriter()
	w.BeginObject()
	w.Key("items")
	w.BeginArray()
	w.Uint(1)
	w.Uint(2)
	w.Uint(3)
	w.EndArray()
	w.EndObject()

	var decoded struct {
		Items []int `json:"items"`
	}
	if err := json.Unmarshal(w.Finalize(false), &decoded); err != nil {
		t.Fatalf("array document did not parse: %v", err)
	}
	if len(decoded.Items) != 3 || decoded.Items[2] != 3 {
		t.Fatalf("Items = %v, want [1 2 3]", decoded.Items)
	}
}

func TestWriterKeyOutsideObjectPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Key outside an object")
		}
	}()
	w := NewWriter()
	w.BeginArray()
	w.Key("oops")
}
