package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is a flat set of fields stored at one path.
type Record map[string]any

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

func (r Record) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Int returns a numeric field as int64, or 0 when absent or not numeric.
func (r Record) Int(field string) int64 {
	n, _ := toInt(r[field])
	return n
}

// Time decodes a Unix millisecond field such as a ServerTimestamp.
func (r Record) Time(field string) time.Time {
	ms, ok := toInt(r[field])
	if !ok || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Snapshot holds every record at or below Path, keyed by full path.
type Snapshot struct {
	Path    string
	Records map[string]Record
}

// Value returns the record stored exactly at the snapshot path.
func (s Snapshot) Value() (Record, bool) {
	r, ok := s.Records[s.Path]
	return r, ok
}

// Children returns the records of the direct children of the snapshot
// path, keyed by the child segment.
func (s Snapshot) Children() map[string]Record {
	prefix := s.Path + Separator
	out := make(map[string]Record)
	for p, r := range s.Records {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" || strings.Contains(rest, Separator) {
			continue
		}
		out[rest] = r
	}
	return out
}
