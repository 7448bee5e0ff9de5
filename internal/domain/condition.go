package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Operator is a comparison applied between a field and a threshold.
type Operator string

const (
	OpGreaterThan Operator = ">"
	OpLessThan    Operator = "<"
	OpEquals      Operator = "=="
	OpNotEquals   Operator = "!="
)

// Valid reports whether the operator is one of the supported comparisons.
func (o Operator) Valid() bool {
	switch o {
	case OpGreaterThan, OpLessThan, OpEquals, OpNotEquals:
		return true
	}
	return false
}

// Predicate is one (operator, threshold) pair inside a field group.
type Predicate struct {
	Op        Operator `json:"op"`
	Threshold Value    `json:"-"`
}

// FieldCondition groups the predicates that apply to a single field.
// All predicates of a group must hold.
type FieldCondition struct {
	Field      string      `json:"field"`
	Predicates []Predicate `json:"predicates"`
}

// Conditions is the typed form of a rule's condition payload
// {"field": {"op": threshold, ...}, ...}.
//
// Entries that cannot be represented (non-object groups, unknown operators,
// non-scalar thresholds) are dropped and listed in Skipped. The original
// payload is retained so it round-trips through storage unchanged.
type Conditions struct {
	Groups  []FieldCondition
	Skipped []string

	raw json.RawMessage
}

// ParseConditions builds Conditions from a JSON payload. It never fails:
// malformed content is recorded in Skipped.
func ParseConditions(data []byte) Conditions {
	var c Conditions
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return c
	}
	c.raw = append(json.RawMessage(nil), trimmed...)

	var groups map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &groups); err != nil {
		c.Skipped = append(c.Skipped, "conditions: not a JSON object")
		return c
	}

	fields := make([]string, 0, len(groups))
	for f := range groups {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		var ops map[string]json.RawMessage
		if err := json.Unmarshal(groups[field], &ops); err != nil || ops == nil {
			c.Skipped = append(c.Skipped, fmt.Sprintf("%s: expected an operator object", field))
			continue
		}

		names := make([]string, 0, len(ops))
		for op := range ops {
			names = append(names, op)
		}
		sort.Strings(names)

		group := FieldCondition{Field: field}
		for _, name := range names {
			op := Operator(name)
			if !op.Valid() {
				c.Skipped = append(c.Skipped, fmt.Sprintf("%s: unknown operator %q", field, name))
				continue
			}
			threshold, ok := parseScalar(ops[name])
			if !ok {
				c.Skipped = append(c.Skipped, fmt.Sprintf("%s %s: threshold is not a scalar", field, name))
				continue
			}
			group.Predicates = append(group.Predicates, Predicate{Op: op, Threshold: threshold})
		}
		if len(group.Predicates) > 0 {
			c.Groups = append(c.Groups, group)
		}
	}
	return c
}

func parseScalar(raw json.RawMessage) (Value, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Value{}, false
	}
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return Value{}, false
		}
		return NumberValue(d), true
	case string:
		return StringValue(t), true
	case bool:
		return BoolValue(t), true
	}
	return Value{}, false
}

// Empty reports whether no usable condition groups were parsed.
func (c Conditions) Empty() bool { return len(c.Groups) == 0 }

// MarshalJSON writes the original payload when one was parsed,
// otherwise it renders the typed groups.
func (c Conditions) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}
	if len(c.Groups) == 0 {
		return []byte("{}"), nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, g := range c.Groups {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:{", g.Field)
		for j, p := range g.Predicates {
			if j > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%q:", string(p.Op))
			switch p.Threshold.Kind {
			case KindNumber:
				b.WriteString(p.Threshold.Number.String())
			case KindString:
				enc, _ := json.Marshal(p.Threshold.Text)
				b.Write(enc)
			case KindBool:
				fmt.Fprintf(&b, "%t", p.Threshold.Bool)
			default:
				b.WriteString("null")
			}
		}
		b.WriteByte('}')
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON parses the payload leniently; see ParseConditions.
func (c *Conditions) UnmarshalJSON(data []byte) error {
	*c = ParseConditions(data)
	return nil
}
