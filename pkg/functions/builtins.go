package functions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/goccy/go-json"
	"github.com/navikt/bq-remote-functions/pkg/remotefn"
)

var ErrOverflow = errors.New("integer overflow")

// Dictionary resolves keys for the lookup function.
type Dictionary interface {
	Lookup(key string) (string, bool)
}

// Builtins returns every function shipped with the service. The lookup
// function resolves keys through dict.
func Builtins(dict Dictionary) []*Definition {
	return []*Definition{
		Add(),
		Upper(),
		ByteLength(),
		Negate(),
		Scale(),
		NumericAdd(),
		DateDiffDays(),
		DateTimeHour(),
		TimeSeconds(),
		UnixMillis(),
		JSONGet(),
		Lookup(dict),
	}
}

func args(typ remotefn.Type, names ...string) []Argument {
	out := make([]Argument, len(names))
	for i, n := range names {
		out[i] = Argument{Name: n, Type: typ}
	}

	return out
}

// nullIfAnyNull wraps fn so that a row with a NULL argument gets a NULL reply.
func nullIfAnyNull(fn Func) Func {
	return func(ctx context.Context, a remotefn.Args, udc map[string]string) (any, error) {
		if a.AnyNull() {
			return nil, nil
		}

		return fn(ctx, a, udc)
	}
}

// Add sums the non-null inputs. A row where every input is NULL sums to 0.
func Add() *Definition {
	return &Definition{
		Name:          "add",
		Description:   "Sum of the non-null arguments",
		Arguments:     args(remotefn.TypeInt64, "x", "y"),
		ReturnType:    remotefn.TypeInt64,
		Deterministic: true,
		Fn: func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			var sum int64

			for i, v := range a {
				if v.IsNull() {
					continue
				}

				n, err := v.Int64()
				if err != nil {
					return nil, fmt.Errorf("argument %d: %w", i, err)
				}

				if (n > 0 && sum > math.MaxInt64-n) || (n < 0 && sum < math.MinInt64-n) {
					return nil, ErrOverflow
				}

				sum += n
			}

			return remotefn.Int64Reply(sum), nil
		},
	}
}

func Upper() *Definition {
	return &Definition{
		Name:          "upper",
		Description:   "Upper case of a string",
		Arguments:     args(remotefn.TypeString, "s"),
		ReturnType:    remotefn.TypeString,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			s, err := a[0].Str()
			if err != nil {
				return nil, err
			}

			return strings.ToUpper(s), nil
		}),
	}
}

func ByteLength() *Definition {
	return &Definition{
		Name:          "byte_length",
		Description:   "Number of bytes in a BYTES value",
		Arguments:     args(remotefn.TypeBytes, "b"),
		ReturnType:    remotefn.TypeInt64,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			b, err := a[0].Bytes()
			if err != nil {
				return nil, err
			}

			return remotefn.Int64Reply(int64(len(b))), nil
		}),
	}
}

func Negate() *Definition {
	return &Definition{
		Name:          "negate",
		Description:   "Logical NOT",
		Arguments:     args(remotefn.TypeBool, "b"),
		ReturnType:    remotefn.TypeBool,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			b, err := a[0].Bool()
			if err != nil {
				return nil, err
			}

			return !b, nil
		}),
	}
}

func Scale() *Definition {
	return &Definition{
		Name:          "scale",
		Description:   "Product of a value and a factor",
		Arguments:     args(remotefn.TypeFloat64, "x", "factor"),
		ReturnType:    remotefn.TypeFloat64,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			x, err := a[0].Float64()
			if err != nil {
				return nil, err
			}

			f, err := a[1].Float64()
			if err != nil {
				return nil, err
			}

			return remotefn.Float64Reply(x * f), nil
		}),
	}
}

func NumericAdd() *Definition {
	return &Definition{
		Name:          "numeric_add",
		Description:   "Exact sum of two NUMERIC values",
		Arguments:     args(remotefn.TypeNumeric, "a", "b"),
		ReturnType:    remotefn.TypeNumeric,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			x, err := a[0].Numeric()
			if err != nil {
				return nil, err
			}

			y, err := a[1].Numeric()
			if err != nil {
				return nil, err
			}

			return remotefn.NumericReply(new(big.Rat).Add(x, y)), nil
		}),
	}
}

func DateDiffDays() *Definition {
	return &Definition{
		Name:          "date_diff_days",
		Description:   "Days from b to a",
		Arguments:     args(remotefn.TypeDate, "a", "b"),
		ReturnType:    remotefn.TypeInt64,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			x, err := a[0].Date()
			if err != nil {
				return nil, err
			}

			y, err := a[1].Date()
			if err != nil {
				return nil, err
			}

			return remotefn.Int64Reply(int64(x.DaysSince(y))), nil
		}),
	}
}

func DateTimeHour() *Definition {
	return &Definition{
		Name:          "datetime_hour",
		Description:   "Hour of a DATETIME",
		Arguments:     args(remotefn.TypeDateTime, "d"),
		ReturnType:    remotefn.TypeInt64,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			d, err := a[0].DateTime()
			if err != nil {
				return nil, err
			}

			return remotefn.Int64Reply(int64(d.Time.Hour)), nil
		}),
	}
}

func TimeSeconds() *Definition {
	return &Definition{
		Name:          "time_seconds",
		Description:   "Seconds since midnight of a TIME",
		Arguments:     args(remotefn.TypeTime, "t"),
		ReturnType:    remotefn.TypeInt64,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			t, err := a[0].Time()
			if err != nil {
				return nil, err
			}

			return remotefn.Int64Reply(int64(t.Hour*3600 + t.Minute*60 + t.Second)), nil
		}),
	}
}

func UnixMillis() *Definition {
	return &Definition{
		Name:          "unix_millis",
		Description:   "Milliseconds since the Unix epoch",
		Arguments:     args(remotefn.TypeTimestamp, "ts"),
		ReturnType:    remotefn.TypeInt64,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			ts, err := a[0].Timestamp()
			if err != nil {
				return nil, err
			}

			return remotefn.Int64Reply(ts.UnixMilli()), nil
		}),
	}
}

// JSONGet returns the member key of a JSON object, or NULL when the document
// is not an object or has no such member.
func JSONGet() *Definition {
	return &Definition{
		Name:        "json_get",
		Description: "Member of a JSON object",
		Arguments: []Argument{
			{Name: "doc", Type: remotefn.TypeJSON},
			{Name: "key", Type: remotefn.TypeString},
		},
		ReturnType:    remotefn.TypeJSON,
		Deterministic: true,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, _ map[string]string) (any, error) {
			doc, err := a[0].JSON()
			if err != nil {
				return nil, err
			}

			key, err := a[1].Str()
			if err != nil {
				return nil, err
			}

			var obj map[string]remotefn.Value
			if err := json.Unmarshal(doc, &obj); err != nil {
				return nil, nil
			}

			v, ok := obj[key]
			if !ok || v.IsNull() {
				return nil, nil
			}

			return remotefn.JSON(v.String()), nil
		}),
	}
}

// Lookup translates a key through the dictionary. The user defined context
// key "default" is the reply for unknown keys, without it they reply NULL.
func Lookup(dict Dictionary) *Definition {
	return &Definition{
		Name:        "lookup",
		Description: "Dictionary lookup",
		Arguments:   args(remotefn.TypeString, "key"),
		ReturnType:  remotefn.TypeString,
		Fn: nullIfAnyNull(func(_ context.Context, a remotefn.Args, udc map[string]string) (any, error) {
			key, err := a[0].Str()
			if err != nil {
				return nil, err
			}

			if v, ok := dict.Lookup(key); ok {
				return v, nil
			}

			if def, ok := udc["default"]; ok {
				return def, nil
			}

			return nil, nil
		}),
	}
}
