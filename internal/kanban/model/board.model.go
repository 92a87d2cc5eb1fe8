package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// VersionKey is the reserved document field holding the optimistic-concurrency token.
const VersionKey = "_version"

// Document is one project's board. Apart from VersionKey its content is opaque.
type Document map[string]any

// Version reports the document's _version when it is present and integral.
func (d Document) Version() (int64, bool) {
	v, ok := d[VersionKey]
	if !ok {
		return 0, false
	}
	return AsInt(v)
}

func (d Document) SetVersion(v int64) {
	d[VersionKey] = v
}

// AsInt converts the numeric forms produced by the JSON and YAML decoders to int64.
// Non-integral and non-numeric values are rejected.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Normalize rewrites json.Number values (from a decoder with UseNumber) into
// int64 or float64 so the document serializes as numbers rather than strings.
// A number outside the float64 range is an error.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		return t, normalizeMap(t)
	case Document:
		return t, normalizeMap(t)
	case []any:
		for i, val := range t {
			n, err := Normalize(val)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s out of range", t)
		}
		return f, nil
	default:
		return v, nil
	}
}

func normalizeMap(m map[string]any) error {
	for k, val := range m {
		n, err := Normalize(val)
		if err != nil {
			return err
		}
		m[k] = n
	}
	return nil
}

type UpdateResponse struct {
	Message    string `json:"message"`
	NewVersion int64  `json:"new_version"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

const (
	OutcomeApplied  = "applied"
	OutcomeConflict = "conflict"
)

// Revision is one journaled update attempt.
type Revision struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	ClientVersion int64     `json:"client_version"`
	Version       int64     `json:"version"`
	Outcome       string    `json:"outcome"`
	RequestID     string    `json:"request_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
