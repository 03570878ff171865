package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Record is one result row keyed by column name
type Record map[string]any

func toRecord(rec *neo4j.Record) Record {
	out := make(Record, len(rec.Keys))
	for i, key := range rec.Keys {
		if i < len(rec.Values) {
			out[key] = rec.Values[i]
		}
	}
	return out
}

// createdAtLayout is fixed width so lexical order equals chronological order
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(createdAtLayout)
}

// legacy rows carry ISO timestamps without a zone
var timestampLayouts = []string{
	createdAtLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ============================================================================
// Helper Functions
// ============================================================================

func getString(record Record, key string) string {
	val, ok := record[key]
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getInt64(record Record, key string) int64 {
	val, ok := record[key]
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func getBool(record Record, key string) bool {
	val, ok := record[key]
	if !ok || val == nil {
		return false
	}
	b, _ := val.(bool)
	return b
}

// getTime accepts native temporal values and the string encodings we write
func getTime(record Record, key string) time.Time {
	val, ok := record[key]
	if !ok || val == nil {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v
	case neo4j.LocalDateTime:
		return v.Time()
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func getFloat32Slice(record Record, key string) []float32 {
	val, ok := record[key]
	if !ok || val == nil {
		return nil
	}
	list, ok := val.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, item := range list {
		switch f := item.(type) {
		case float64:
			out = append(out, float32(f))
		case int64:
			out = append(out, float32(f))
		default:
			return nil
		}
	}
	return out
}

// toParamVector converts an embedding into a driver-friendly list parameter
func toParamVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
