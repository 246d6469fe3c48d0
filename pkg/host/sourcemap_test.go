package host

import (
	"encoding/base64"
	"encoding/json"
	"reflect"
	"testing"
)

func TestVLQ(t *testing.T) {
	tests := map[string][]int{
		"AAAA": {0, 0, 0, 0},
		"AACA": {0, 0, 1, 0},
		"AAAC": {0, 0, 0, 1},
		"D":    {-1},
		"gB":   {16},
		"SAAS": {9, 0, 0, 9},
	}
	for seg, fields := range tests {
		t.Run(seg, func(t *testing.T) {
			got, ok := decodeVLQ(seg)
			if !ok || !reflect.DeepEqual(got, fields) {
				t.Errorf("decodeVLQ(%q) = %v, %v, want %v", seg, got, ok, fields)
			}
			if enc := encodeVLQ(fields); enc != seg {
				t.Errorf("encodeVLQ(%v) = %q, want %q", fields, enc, seg)
			}
		})
	}

	if _, ok := decodeVLQ("g"); ok {
		t.Error("decodeVLQ accepted a truncated value")
	}
}

func TestShiftSourceColumns(t *testing.T) {
	tests := map[string]struct {
		in, want string
	}{
		"first segment":     {in: "AAAA,IAAI;AACA", want: "AAAC,IAAI;AACA"},
		"leading empty":     {in: ";;AAAA", want: ";;AAAC"},
		"generated only":    {in: "A,AAAA", want: "A,AAAC"},
		"nothing to change": {in: "A;C", want: "A;C"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := shiftSourceColumns(tc.in, 1); got != tc.want {
				t.Errorf("shiftSourceColumns(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestInlineMapIsWrapped(t *testing.T) {
	sm := `{"version":3,"sources":["/src/a.ts"],"mappings":"AAAA"}`
	code := "a()\n" + inlineMapPrefix + base64.StdEncoding.EncodeToString([]byte(sm)) + "\n"

	body, data, ok := splitInlineMap(code)
	if !ok || body != "a()\n" || string(data) != sm {
		t.Fatalf("splitInlineMap() = %q, %q, %v", body, data, ok)
	}
	if _, _, ok := splitInlineMap("a()\n"); ok {
		t.Error("splitInlineMap found a map in plain code")
	}

	wrapped, err := wrapSourceMap(data)
	if err != nil {
		t.Fatal(err)
	}
	var index struct {
		Version  int `json:"version"`
		Sections []struct {
			Offset struct{ Line, Column int } `json:"offset"`
			Map    struct {
				Sources  []string `json:"sources"`
				Mappings string   `json:"mappings"`
			} `json:"map"`
		} `json:"sections"`
	}
	if err := json.Unmarshal(wrapped, &index); err != nil {
		t.Fatal(err)
	}
	if index.Version != 3 || len(index.Sections) != 1 {
		t.Fatalf("index map = %s", wrapped)
	}
	sec := index.Sections[0]
	if sec.Offset.Line != 1 || sec.Offset.Column != 1 {
		t.Errorf("offset = %+v, want 1:1", sec.Offset)
	}
	if sec.Map.Mappings != "AAAC" || len(sec.Map.Sources) != 1 || sec.Map.Sources[0] != "/src/a.ts" {
		t.Errorf("section map = %+v", sec.Map)
	}
}
