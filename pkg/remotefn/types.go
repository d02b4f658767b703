package remotefn

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Type is a GoogleSQL type name as used in CREATE FUNCTION statements.
type Type string

const (
	TypeBool       Type = "BOOL"
	TypeInt64      Type = "INT64"
	TypeFloat64    Type = "FLOAT64"
	TypeNumeric    Type = "NUMERIC"
	TypeBigNumeric Type = "BIGNUMERIC"
	TypeString     Type = "STRING"
	TypeBytes      Type = "BYTES"
	TypeDate       Type = "DATE"
	TypeDateTime   Type = "DATETIME"
	TypeTime       Type = "TIME"
	TypeTimestamp  Type = "TIMESTAMP"
	TypeJSON       Type = "JSON"
)

// SupportedTypes lists the types a remote function may take or return.
// Arrays, structs, intervals, ranges and geography values are not supported
// by BigQuery for remote functions.
var SupportedTypes = []Type{
	TypeBool,
	TypeInt64,
	TypeFloat64,
	TypeNumeric,
	TypeBigNumeric,
	TypeString,
	TypeBytes,
	TypeDate,
	TypeDateTime,
	TypeTime,
	TypeTimestamp,
	TypeJSON,
}

func (t Type) String() string {
	return string(t)
}

func (t Type) Supported() bool {
	for _, s := range SupportedTypes {
		if s == t {
			return true
		}
	}

	return false
}

func (t Type) Validate() error {
	return validation.Validate(string(t),
		validation.Required,
		validation.By(func(_ interface{}) error {
			if !t.Supported() {
				return validation.NewError("validation_unsupported_type", "type "+string(t)+" is not supported by remote functions")
			}

			return nil
		}),
	)
}
