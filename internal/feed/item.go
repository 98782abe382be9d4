package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Item is a single entry fetched from the feed source.
type Item struct {
	ID        ID
	Title     string
	Body      string
	URL       string
	Published time.Time
	Category  string
	Origin    string
}

// ID is the canonical string form of a feed item identifier. The store only
// keeps string members, so numeric and string ids must normalize the same way.
type ID string

// String returns the id as stored.
func (id ID) String() string { return string(id) }

// NormalizeID converts a raw identifier into its canonical form.
// Integral numbers are formatted in base 10 without fraction or exponent,
// strings are trimmed.
func NormalizeID(v any) (ID, error) {
	switch x := v.(type) {
	case nil:
		return "", fmt.Errorf("id is null")
	case ID:
		return ID(strings.TrimSpace(string(x))), nil
	case string:
		return ID(strings.TrimSpace(x)), nil
	case int:
		return ID(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return ID(strconv.FormatInt(x, 10)), nil
	case uint64:
		return ID(strconv.FormatUint(x, 10)), nil
	case json.Number:
		return normalizeNumber(string(x))
	case float64:
		return normalizeFloat(x)
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

// normalizeNumber keeps integer literals exact at any size. Only literals
// with a fraction or exponent that are not integral go through float64.
func normalizeNumber(s string) (ID, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID(strconv.FormatInt(i, 10)), nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return ID(strconv.FormatUint(u, 10)), nil
	}
	if !strings.ContainsAny(s, ".eE") {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return "", fmt.Errorf("invalid numeric id %q", s)
		}
		return ID(n.String()), nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return "", fmt.Errorf("invalid numeric id %q", s)
	}
	if r.IsInt() {
		return ID(r.Num().String()), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("invalid numeric id %q: %w", s, err)
	}
	return normalizeFloat(f)
}

func normalizeFloat(f float64) (ID, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("invalid numeric id %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return ID(strconv.FormatInt(int64(f), 10)), nil
	}
	return ID(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	v, err := NormalizeID(raw)
	if err != nil {
		return err
	}
	*id = v
	return nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02",
}

// ParseTimestamp parses the loosely formatted datetime values the feed emits.
// It returns the zero time when nothing matches.
func ParseTimestamp(raw json.RawMessage, loc *time.Location) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}
	if loc == nil {
		loc = time.Local
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return time.Time{}
		}
		s = n.String()
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).In(loc)
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}
