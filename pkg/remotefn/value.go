package remotefn

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/goccy/go-json"
)

var (
	ErrNull      = errors.New("argument is NULL")
	ErrWrongType = errors.New("argument has wrong type")
)

var null = []byte("null")

// Args is one row of a batch: the arguments of a single invocation.
type Args []Value

// AnyNull reports whether any argument in the row is SQL NULL.
func (a Args) AnyNull() bool {
	for _, v := range a {
		if v.IsNull() {
			return true
		}
	}

	return false
}

// Value is a single argument as sent by BigQuery. It keeps the raw JSON so
// that each function can read it with the accessor matching its declared
// argument type.
type Value struct {
	raw []byte
}

// NewValue returns a Value holding the JSON encoding of v.
func NewValue(v any) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}

	return Value{raw: raw}, nil
}

// RawValue returns a Value for an already encoded JSON value.
func RawValue(raw string) Value {
	return Value{raw: []byte(raw)}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	v.raw = append(v.raw[:0], data...)

	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return null, nil
	}

	return v.raw, nil
}

func (v Value) String() string {
	if len(v.raw) == 0 {
		return "null"
	}

	return string(v.raw)
}

// IsNull reports whether the argument is SQL NULL.
func (v Value) IsNull() bool {
	return len(v.raw) == 0 || bytes.Equal(bytes.TrimSpace(v.raw), null)
}

func (v Value) isString() bool {
	return len(v.raw) > 0 && v.raw[0] == '"'
}

func (v Value) text() (string, error) {
	if v.IsNull() {
		return "", ErrNull
	}

	if !v.isString() {
		return "", fmt.Errorf("%w: expected string, got %s", ErrWrongType, v.raw)
	}

	var s string

	err := json.Unmarshal(v.raw, &s)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrWrongType, err)
	}

	return s, nil
}

// scalar returns the unquoted text of a string or the literal of any other
// JSON value.
func (v Value) scalar() (string, error) {
	if v.IsNull() {
		return "", ErrNull
	}

	if v.isString() {
		return v.text()
	}

	return string(bytes.TrimSpace(v.raw)), nil
}

// Bool reads a BOOL argument.
func (v Value) Bool() (bool, error) {
	s, err := v.scalar()
	if err != nil {
		return false, err
	}

	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}

	return false, fmt.Errorf("%w: expected bool, got %s", ErrWrongType, v.raw)
}

// Int64 reads an INT64 argument, sent as a number or as a decimal string.
func (v Value) Int64() (int64, error) {
	s, err := v.scalar()
	if err != nil {
		return 0, err
	}

	i, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return i, nil
	}

	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: %s is out of range for int64", ErrWrongType, v.raw)
	}

	// Exponent forms such as 1e3. float64(math.MaxInt64) rounds up to 2^63,
	// so the upper bound is exclusive.
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f != math.Trunc(f) || f >= 0x1p63 || f < -0x1p63 {
		return 0, fmt.Errorf("%w: expected int64, got %s", ErrWrongType, v.raw)
	}

	return int64(f), nil
}

// Float64 reads a FLOAT64 argument. Non-finite values arrive as the strings
// NaN, Infinity and -Infinity.
func (v Value) Float64() (float64, error) {
	s, err := v.scalar()
	if err != nil {
		return 0, err
	}

	switch s {
	case "NaN":
		return math.NaN(), nil
	case "Infinity", "inf", "+inf":
		return math.Inf(1), nil
	case "-Infinity", "-inf":
		return math.Inf(-1), nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: expected float64, got %s", ErrWrongType, v.raw)
	}

	return f, nil
}

// Numeric reads a NUMERIC or BIGNUMERIC argument exactly.
func (v Value) Numeric() (*big.Rat, error) {
	s, err := v.scalar()
	if err != nil {
		return nil, err
	}

	if strings.Contains(s, "/") {
		return nil, fmt.Errorf("%w: expected numeric, got %s", ErrWrongType, v.raw)
	}

	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: expected numeric, got %s", ErrWrongType, v.raw)
	}

	return r, nil
}

// Str reads a STRING argument.
func (v Value) Str() (string, error) {
	return v.text()
}

// Bytes reads a BYTES argument, sent base64 encoded.
func (v Value) Bytes() ([]byte, error) {
	s, err := v.text()
	if err != nil {
		return nil, err
	}

	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: expected base64 bytes: %s", ErrWrongType, err)
	}

	return b, nil
}

// Date reads a DATE argument.
func (v Value) Date() (civil.Date, error) {
	s, err := v.text()
	if err != nil {
		return civil.Date{}, err
	}

	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("%w: expected date: %s", ErrWrongType, err)
	}

	return d, nil
}

// DateTime reads a DATETIME argument. Both the T and the space separator are
// accepted.
func (v Value) DateTime() (civil.DateTime, error) {
	s, err := v.text()
	if err != nil {
		return civil.DateTime{}, err
	}

	if len(s) > 10 && s[10] == ' ' {
		s = s[:10] + "T" + s[11:]
	}

	d, err := civil.ParseDateTime(s)
	if err != nil {
		return civil.DateTime{}, fmt.Errorf("%w: expected datetime: %s", ErrWrongType, err)
	}

	return d, nil
}

// Time reads a TIME argument.
func (v Value) Time() (civil.Time, error) {
	s, err := v.text()
	if err != nil {
		return civil.Time{}, err
	}

	t, err := civil.ParseTime(s)
	if err != nil {
		return civil.Time{}, fmt.Errorf("%w: expected time: %s", ErrWrongType, err)
	}

	return t, nil
}

// Fractional seconds are accepted by time.Parse even when the layout has none.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z07",
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05 UTC",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp reads a TIMESTAMP argument. Timestamps without a zone are UTC.
func (v Value) Timestamp() (time.Time, error) {
	s, err := v.text()
	if err != nil {
		return time.Time{}, err
	}

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: expected timestamp, got %s", ErrWrongType, v.raw)
}

// JSON reads a JSON argument as its raw encoding.
func (v Value) JSON() (JSON, error) {
	if v.IsNull() {
		return nil, ErrNull
	}

	if !json.Valid(v.raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrWrongType)
	}

	return JSON(bytes.Clone(v.raw)), nil
}
