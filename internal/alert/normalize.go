package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/haven/internal/geo"
)

// beyond year 5000, larger numbers are not epoch seconds
const maxEpochSeconds = 1e11

// naive ISO-8601 and common date layouts, tried after RFC3339
var timeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize converts a raw candidate into an Alert. Missing fields are
// defaulted rather than rejected: the id is derived from the candidate's
// identifying fields, the time falls back to now and the confidence to
// DefaultConfidence.
func Normalize(raw Raw, now time.Time) *Alert {
	a := &Alert{
		ID:       stringField(raw, "id"),
		Type:     stringField(raw, "type"),
		Location: stringField(raw, "location"),
		Source:   stringField(raw, "source"),
	}

	rawTime := timeText(raw["time"])
	if a.ID == "" {
		a.ID = DeriveID(a.Source, a.Type, a.Location, rawTime)
	}

	if t, ok := ParseTime(raw["time"]); ok {
		a.Time = t
	} else {
		a.Time = now.UTC()
	}

	a.Confidence = DefaultConfidence
	if c, ok := geo.Float(raw["confidence"]); ok && c >= 0 && c <= 1 {
		a.Confidence = c
	}

	if p, ok := raw["payload"].(map[string]any); ok {
		a.Payload = cloneMap(p)
	} else if p, ok := raw["payload"].(Raw); ok {
		a.Payload = cloneMap(p)
	} else {
		a.Payload = make(map[string]any)
	}

	return a
}

// DeriveID returns a stable id for a candidate without one. The same
// source, type, location and raw time text always yield the same id.
func DeriveID(source, typ, location, rawTime string) string {
	sum := sha256.Sum256([]byte(source + "|" + typ + "|" + location + "|" + rawTime))
	return "alert-" + hex.EncodeToString(sum[:8])
}

// ParseTime accepts RFC3339, naive ISO-8601 (assumed UTC), a bare date and
// epoch seconds as a number or digit string.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		return parseTimeString(t)
	case json.Number:
		return parseTimeString(t.String())
	case nil, bool:
		return time.Time{}, false
	default:
		f, ok := geo.Float(t)
		if !ok || f < 0 || f > maxEpochSeconds {
			return time.Time{}, false
		}
		return time.Unix(int64(f), 0).UTC(), true
	}
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if isDigits(s) {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(sec, 0).UTC(), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func stringField(raw Raw, key string) string {
	switch v := raw[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// timeText is the raw time value as text, used for id derivation before
// any defaulting.
func timeText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
