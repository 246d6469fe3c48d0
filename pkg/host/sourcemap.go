package host

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

const inlineMapPrefix = "//# sourceMappingURL=data:application/json;base64,"

const vlqChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// splitInlineMap separates a trailing inline source map comment from code.
func splitInlineMap(code string) (body string, sourceMap []byte, ok bool) {
	trimmed := strings.TrimRight(code, "\n")
	i := strings.LastIndexByte(trimmed, '\n')
	last := trimmed[i+1:]
	if !strings.HasPrefix(last, inlineMapPrefix) {
		return code, nil, false
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(last, inlineMapPrefix))
	if err != nil {
		return code, nil, false
	}
	return trimmed[:i+1], data, true
}

// wrapSourceMap turns the map of code into one valid for code placed one
// line below a wrapper head, and compensates for goja querying generated
// columns 1-based while reporting original columns 0-based. The result is
// an index map with a single section offset by one line and one column.
func wrapSourceMap(sourceMap []byte) ([]byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(sourceMap, &raw); err != nil {
		return nil, err
	}
	var mappings string
	if err := json.Unmarshal(raw["mappings"], &mappings); err != nil {
		return nil, err
	}
	shifted, err := json.Marshal(shiftSourceColumns(mappings, 1))
	if err != nil {
		return nil, err
	}
	raw["mappings"] = shifted
	inner, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	type offset struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	}
	type section struct {
		Offset offset          `json:"offset"`
		Map    json.RawMessage `json:"map"`
	}
	return json.Marshal(struct {
		Version  int       `json:"version"`
		Sections []section `json:"sections"`
	}{
		Version:  3,
		Sections: []section{{Offset: offset{Line: 1, Column: 1}, Map: inner}},
	})
}

// shiftSourceColumns adds delta to every original column in mappings. Source
// columns are relative across the whole mapping, so only the first segment
// that carries a source position changes.
func shiftSourceColumns(mappings string, delta int) string {
	lines := strings.Split(mappings, ";")
	for li, line := range lines {
		if line == "" {
			continue
		}
		segs := strings.Split(line, ",")
		for si, seg := range segs {
			fields, ok := decodeVLQ(seg)
			if !ok || len(fields) < 4 {
				continue
			}
			fields[3] += delta
			segs[si] = encodeVLQ(fields)
			lines[li] = strings.Join(segs, ",")
			return strings.Join(lines, ";")
		}
	}
	return mappings
}

func decodeVLQ(seg string) ([]int, bool) {
	var fields []int
	value, shift := 0, 0
	for i := 0; i < len(seg); i++ {
		digit := strings.IndexByte(vlqChars, seg[i])
		if digit < 0 {
			return nil, false
		}
		value += (digit & 31) << shift
		if digit&32 != 0 {
			shift += 5
			continue
		}
		if value&1 != 0 {
			fields = append(fields, -(value >> 1))
		} else {
			fields = append(fields, value>>1)
		}
		value, shift = 0, 0
	}
	return fields, shift == 0
}

func encodeVLQ(fields []int) string {
	var b strings.Builder
	for _, v := range fields {
		n := v << 1
		if v < 0 {
			n = (-v << 1) | 1
		}
		for {
			digit := n & 31
			n >>= 5
			if n > 0 {
				digit |= 32
			}
			b.WriteByte(vlqChars[digit])
			if n == 0 {
				break
			}
		}
	}
	return b.String()
}
