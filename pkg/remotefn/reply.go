package remotefn

import (
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/goccy/go-json"
)

// MaxSafeInteger is the largest integer a JSON number carries without loss
// in consumers that decode numbers as doubles.
const MaxSafeInteger = 1<<53 - 1

// NumericScale is the number of decimal digits BigQuery keeps for NUMERIC.
const NumericScale = 9

// JSON is a raw JSON value, used for JSON arguments and replies.
type JSON []byte

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return null, nil
	}

	if !json.Valid(j) {
		return nil, fmt.Errorf("invalid json reply: %s", string(j))
	}

	return j, nil
}

// Int64Reply encodes an INT64 reply. Values outside the safe integer range
// are sent as decimal strings, which BigQuery accepts for INT64.
func Int64Reply(i int64) any {
	if i > MaxSafeInteger || i < -MaxSafeInteger {
		return strconv.FormatInt(i, 10)
	}

	return i
}

// Float64Reply encodes a FLOAT64 reply, spelling non-finite values out.
func Float64Reply(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}

	return f
}

// NumericReply encodes a NUMERIC reply as a decimal string rounded to
// NumericScale digits.
func NumericReply(r *big.Rat) any {
	if r == nil {
		return nil
	}

	s := r.FloatString(NumericScale)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}

	if s == "-0" {
		s = "0"
	}

	return s
}

func BytesReply(b []byte) any {
	if b == nil {
		return nil
	}

	return base64.StdEncoding.EncodeToString(b)
}

func DateReply(d civil.Date) any {
	return d.String()
}

// TimeReply encodes a TIME reply with microsecond precision.
func TimeReply(t civil.Time) any {
	return formatTime(t)
}

func DateTimeReply(d civil.DateTime) any {
	return d.Date.String() + "T" + formatTime(d.Time)
}

// TimestampReply encodes a TIMESTAMP reply in UTC with microsecond precision.
func TimestampReply(t time.Time) any {
	return t.UTC().Truncate(time.Microsecond).Format("2006-01-02T15:04:05.999999Z07:00")
}

func formatTime(t civil.Time) string {
	s := fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)

	micros := t.Nanosecond / 1000
	if micros > 0 {
		s += fmt.Sprintf(".%06d", micros)
	}

	return s
}
