package domain

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// ValueKind tags the scalar carried by a Value.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindNumber
	KindString
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	}
	return "invalid"
}

// Value is a typed scalar: a transaction field, a derived attribute,
// or a rule threshold.
type Value struct {
	Kind   ValueKind
	Number decimal.Decimal
	Text   string
	Bool   bool
}

func NumberValue(d decimal.Decimal) Value { return Value{Kind: KindNumber, Number: d} }
func StringValue(s string) Value          { return Value{Kind: KindString, Text: s} }
func BoolValue(b bool) Value              { return Value{Kind: KindBool, Bool: b} }

// IntValue is shorthand for integer-valued attributes such as velocity.
func IntValue(n int64) Value { return NumberValue(decimal.NewFromInt(n)) }

// Native converts the value to the plain Go type used by CEL activations
// and JSON encoding.
func (v Value) Native() any {
	switch v.Kind {
	case KindNumber:
		return v.Number.InexactFloat64()
	case KindString:
		return v.Text
	case KindBool:
		return v.Bool
	}
	return nil
}

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return v.Number.String()
	case KindString:
		return strconv.Quote(v.Text)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return "<invalid>"
}
