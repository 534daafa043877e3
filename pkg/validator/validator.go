package validator

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/sciffer/beermqtt/pkg/models"
)

// Reading batch limits
const (
	MinReads    = 1
	MaxReads    = 40
	MinSensorID = 0
	MaxSensorID = 40
)

var (
	batchFields = map[string]bool{"date": true, "reads": true}
	readFields  = map[string]bool{"sensor_id": true, "value": true}
)

// ValidationError lists every constraint a payload violated
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid reading batch: " + strings.Join(e.Violations, "; ")
}

// Validator checks inbound reading batches against the closed wire schema
// {date: date-time, reads: [{sensor_id: int, value: number|string}]}
type Validator struct {
	maxPayloadBytes int
}

// New creates a validator. maxPayloadBytes <= 0 disables the size check.
func New(maxPayloadBytes int) *Validator {
	return &Validator{maxPayloadBytes: maxPayloadBytes}
}

// Validate parses raw and returns the batch, or a *ValidationError
func (v *Validator) Validate(raw []byte) (*models.ReadingBatch, error) {
	var violations []string
	fail := func(format string, args ...interface{}) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if v.maxPayloadBytes > 0 && len(raw) > v.maxPayloadBytes {
		fail("payload: exceeds %d bytes", v.maxPayloadBytes)
		return nil, &ValidationError{Violations: violations}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		fail("payload: must be a JSON object")
		return nil, &ValidationError{Violations: violations}
	}

	for _, key := range sortedKeys(fields) {
		if !batchFields[key] {
			fail("%s: unknown field", key)
		}
	}

	batch := &models.ReadingBatch{}

	if rawDate, ok := fields["date"]; !ok {
		fail("date: required")
	} else if date, err := parseDate(rawDate); err != nil {
		fail("date: %v", err)
	} else {
		batch.Date = date
	}

	rawReads, ok := fields["reads"]
	if !ok {
		fail("reads: required")
		return nil, &ValidationError{Violations: violations}
	}

	var entries []json.RawMessage
	rawReads = bytes.TrimSpace(rawReads)
	if len(rawReads) == 0 || rawReads[0] != '[' || json.Unmarshal(rawReads, &entries) != nil {
		fail("reads: must be an array")
		return nil, &ValidationError{Violations: violations}
	}
	if len(entries) < MinReads {
		fail("reads: must contain at least %d item", MinReads)
	}
	if len(entries) > MaxReads {
		fail("reads: must contain at most %d items", MaxReads)
	}

	for i, entry := range entries {
		read, errs := parseRead(entry)
		for _, e := range errs {
			fail("reads[%d].%s", i, e)
		}
		if len(errs) == 0 {
			batch.Reads = append(batch.Reads, read)
		}
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return batch, nil
}

func parseDate(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", fmt.Errorf("must be a string")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("must be a string")
	}
	if _, err := time.Parse(time.RFC3339, normalizeDate(s)); err != nil {
		return "", fmt.Errorf("must be an RFC 3339 date-time")
	}
	return s, nil
}

// normalizeDate upper-cases the "t" separator and "z" zone RFC 3339 allows in
// lower case, and accepts a space separator. The caller keeps the original text.
func normalizeDate(s string) string {
	b := []byte(s)
	if len(b) > 10 && (b[10] == 't' || b[10] == ' ') {
		b[10] = 'T'
	}
	if n := len(b); n > 0 && b[n-1] == 'z' {
		b[n-1] = 'Z'
	}
	return string(b)
}

// parseSensorID accepts any JSON number without a fractional part, so 1.0
// and 1e1 are integers
func parseSensorID(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	// anything this large is out of range anyway
	f = math.Max(math.Min(f, math.MaxInt32), math.MinInt32)
	return int64(f), true
}

// parseRead returns violations without the "reads[i]." prefix
func parseRead(raw json.RawMessage) (models.Read, []string) {
	var read models.Read
	var errs []string

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return read, []string{"entry: must be an object"}
	}

	for _, key := range sortedKeys(fields) {
		if !readFields[key] {
			errs = append(errs, key+": unknown field")
		}
	}

	if rawID, ok := fields["sensor_id"]; !ok {
		errs = append(errs, "sensor_id: required")
	} else if id, ok := parseSensorID(rawID); !ok {
		errs = append(errs, "sensor_id: must be an integer")
	} else if id < MinSensorID || id > MaxSensorID {
		errs = append(errs, fmt.Sprintf("sensor_id: must be between %d and %d", MinSensorID, MaxSensorID))
	} else {
		read.SensorID = int(id)
	}

	if rawValue, ok := fields["value"]; !ok {
		errs = append(errs, "value: required")
	} else if value, err := parseValue(rawValue); err != nil {
		errs = append(errs, "value: "+err.Error())
	} else {
		read.Value = value
	}

	return read, errs
}

func parseValue(raw json.RawMessage) (models.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return models.Value{}, fmt.Errorf("must be a number or a string")
	}
	switch c := raw[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.Value{}, fmt.Errorf("must be a number or a string")
		}
		if s == "" {
			return models.Value{}, fmt.Errorf("must not be empty")
		}
		return models.StringValue(s), nil
	case c == '-' || (c >= '0' && c <= '9'):
		return models.NumberValue(string(raw)), nil
	default:
		return models.Value{}, fmt.Errorf("must be a number or a string")
	}
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
