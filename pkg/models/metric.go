package models

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Metric is one timestamped batch of reads submitted by a hive
type Metric struct {
	ID int64 `json:"id"`
	// Date is the device-supplied date-time, kept as sent
	Date       string    `json:"date"`
	ReceivedAt time.Time `json:"received_at"`
	Reads      []Read    `json:"reads"`
}

// Read is one sensor sample inside a Metric
type Read struct {
	ID       int64 `json:"id,omitempty"`
	SensorID int   `json:"sensor_id"`
	Value    Value `json:"value"`
}

// ReadingBatch is a validated payload that has not been stored yet
type ReadingBatch struct {
	Date  string `json:"date"`
	Reads []Read `json:"reads"`
}

// ValueKind records whether a sample arrived as a JSON number or string
type ValueKind string

const (
	KindNumber ValueKind = "number"
	KindString ValueKind = "string"
)

// Value is a scalar sample. Numbers keep their original literal so they
// round-trip exactly.
type Value struct {
	text string
	kind ValueKind
}

// NumberValue wraps a JSON number literal
func NumberValue(literal string) Value {
	return Value{text: literal, kind: KindNumber}
}

// StringValue wraps a textual sample
func StringValue(s string) Value {
	return Value{text: s, kind: KindString}
}

// NewValue rebuilds a Value from its stored parts
func NewValue(text string, kind ValueKind) Value {
	return Value{text: text, kind: kind}
}

func (v Value) String() string { return v.text }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsNumber() bool { return v.kind == KindNumber }

// MarshalJSON emits numbers bare and strings quoted
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber {
		return []byte(v.text), nil
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts a JSON number or string
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NumberValue(n.String())
	default:
		return fmt.Errorf("value must be a number or a string")
	}
	return nil
}
