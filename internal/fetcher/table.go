package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// decodeTable normalises the two row shapes SWPC publishes: an array of
// arrays whose first row is the header, or an array of objects.
func decodeTable(body []byte) ([]map[string]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	if first := bytes.TrimSpace(raw[0]); len(first) > 0 && first[0] == '[' {
		var header []any
		if err := json.Unmarshal(first, &header); err != nil {
			return nil, fmt.Errorf("decode header: %w", err)
		}
		cols := make([]string, len(header))
		for i, h := range header {
			cols[i] = cellString(h)
		}
		rows := make([]map[string]string, 0, len(raw)-1)
		for _, r := range raw[1:] {
			var cells []any
			if err := json.Unmarshal(r, &cells); err != nil {
				return nil, fmt.Errorf("decode row: %w", err)
			}
			row := make(map[string]string, len(cols))
			for i, c := range cells {
				if i < len(cols) {
					row[cols[i]] = cellString(c)
				}
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	rows := make([]map[string]string, 0, len(raw))
	for _, r := range raw {
		var obj map[string]any
		if err := json.Unmarshal(r, &obj); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		row := make(map[string]string, len(obj))
		for k, v := range obj {
			row[k] = cellString(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func parseNumber(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

func parseTimeTag(raw string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
