package rules

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/harrier/internal/domain"
)

// matchConditions applies every field group of c. A group whose field is
// absent is skipped. Any evaluated predicate that fails rejects the rule.
// satisfied reports whether at least one group was actually evaluated.
func matchConditions(c domain.Conditions, tx *domain.Transaction, attrs domain.Attributes) (satisfied, rejected bool) {
	for _, group := range c.Groups {
		val, ok := lookup(tx, attrs, group.Field)
		if !ok {
			continue
		}
		evaluated := false
		for _, p := range group.Predicates {
			pass, comparable := compare(val, p)
			if !comparable {
				continue
			}
			if !pass {
				return false, true
			}
			evaluated = true
		}
		if evaluated {
			satisfied = true
		}
	}
	return satisfied, false
}

func lookup(tx *domain.Transaction, attrs domain.Attributes, field string) (domain.Value, bool) {
	if v, ok := tx.Lookup(field); ok {
		return v, true
	}
	v, ok := attrs[field]
	return v, ok
}

// compare evaluates a single predicate. comparable is false when the
// operand types cannot be compared with the operator; such predicates are
// treated as malformed and skipped.
func compare(field domain.Value, p domain.Predicate) (pass, comparable bool) {
	if field.Kind != p.Threshold.Kind {
		return false, false
	}

	var cmp int
	switch field.Kind {
	case domain.KindNumber:
		cmp = field.Number.Cmp(p.Threshold.Number)
	case domain.KindString:
		cmp = strings.Compare(field.Text, p.Threshold.Text)
	case domain.KindBool:
		if p.Op != domain.OpEquals && p.Op != domain.OpNotEquals {
			return false, false
		}
		if field.Bool != p.Threshold.Bool {
			cmp = 1
		}
	default:
		return false, false
	}

	switch p.Op {
	case domain.OpGreaterThan:
		return cmp > 0, true
	case domain.OpLessThan:
		return cmp < 0, true
	case domain.OpEquals:
		return cmp == 0, true
	case domain.OpNotEquals:
		return cmp != 0, true
	}
	return false, false
}

// buildActivation exposes the transaction and attributes to CEL guards.
// Absent balances read as 0.
func buildActivation(tx *domain.Transaction, attrs domain.Attributes) map[string]any {
	fields := map[string]any{
		domain.FieldAmount:          tx.Amount.InexactFloat64(),
		domain.FieldCustomerID:      tx.CustomerID,
		domain.FieldMerchantID:      tx.MerchantID,
		domain.FieldCategory:        tx.Category,
		domain.FieldTransactionType: tx.Type,
	}
	for _, name := range []string{
		domain.FieldOldBalanceOrig, domain.FieldNewBalanceOrig,
		domain.FieldOldBalanceDest, domain.FieldNewBalanceDest,
	} {
		if v, ok := tx.Lookup(name); ok {
			fields[name] = v.Number.InexactFloat64()
		} else {
			fields[name] = 0.0
		}
	}
	for k, v := range attrs {
		if _, exists := fields[k]; !exists {
			fields[k] = v.Native()
		}
	}

	var velocity int64
	if v, ok := attrs[domain.FieldVelocity]; ok && v.Kind == domain.KindNumber {
		velocity = v.Number.IntPart()
	}

	activation := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		activation[k] = v
	}
	activation[domain.FieldVelocity] = velocity
	activation["tx"] = fields
	return activation
}

// evalGuard runs a compiled guard. evaluated is false on runtime errors
// such as a missing map key.
func evalGuard(prg cel.Program, activation map[string]any) (ok, evaluated bool) {
	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, false
	}
	b, isBool := out.(types.Bool)
	if !isBool {
		return false, false
	}
	return bool(b), true
}
