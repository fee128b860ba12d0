// Package validator interprets DataType rules against a Value tree and
// accumulates violations into a Report. It performs no I/O and holds no
// state: Verify is a pure function of its arguments.
package validator

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/code0-tech/draco-adapter/internal/datatype"
	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/value"
)

// Verify checks input against the flow's declared input type. It returns
// (Report{}, true) when the input is acceptable and (Report{...}, false)
// otherwise. A flow with no InputTypeIdentifier accepts any input.
func Verify(f flow.ValidationFlow, input value.Value) (Report, bool) {
	if f.InputTypeIdentifier == nil {
		return Report{}, true
	}

	id := *f.InputTypeIdentifier
	if id.IsGeneric() {
		r := Report{}
		r.add(Violation{
			Type:        ViolationGenericKeyNotAllowed,
			Explanation: "root input type must be concrete, not a generic parameter reference: " + id.String(),
			Details:     map[string]any{"identifier": id.String()},
		})
		return r, false
	}

	root, ok := f.DataTypes.Lookup(id)
	if !ok {
		r := Report{}
		r.add(dataTypeNotFound(id.String()))
		return r, false
	}

	report, err := evaluate(root, input, f.DataTypes)
	if err != nil {
		r := Report{}
		r.add(Violation{
			Type:        ViolationInvalidFormat,
			Explanation: err.Error(),
		})
		return r, false
	}
	return report, report.Empty()
}

// evaluate runs every rule on dt against v, accumulating violations rather
// than short-circuiting so the report enumerates all failures. A non-nil
// error indicates a programmer error (an unparsable regex) which fails the
// whole validation.
func evaluate(dt datatype.DataType, v value.Value, universe datatype.Universe) (Report, error) {
	var report Report
	for _, rule := range dt.Rules {
		sub, err := evaluateRule(rule, v, universe)
		if err != nil {
			return Report{}, err
		}
		report.merge(sub)
	}
	return report, nil
}

func evaluateRule(rule datatype.Rule, v value.Value, universe datatype.Universe) (Report, error) {
	switch rule.Kind {
	case datatype.RuleRegex:
		return evaluateRegex(rule, v)
	case datatype.RuleNumberRange:
		return evaluateNumberRange(rule, v), nil
	case datatype.RuleItemOfCollection:
		return evaluateItemOfCollection(rule, v), nil
	case datatype.RuleContainsKey:
		return evaluateContainsKey(rule, v, universe)
	case datatype.RuleContainsType:
		return evaluateContainsType(rule, v, universe)
	default:
		return Report{}, fmt.Errorf("validator: unknown rule kind %d", rule.Kind)
	}
}

func evaluateRegex(rule datatype.Rule, v value.Value) (Report, error) {
	var report Report

	s, stringifiable := v.Stringify()
	if !stringifiable {
		report.add(regexTypeNotAccepted(v.Kind().String()))
		return report, nil
	}

	re, err := regexp2.Compile(rule.Pattern, regexp2.None)
	if err != nil {
		return Report{}, fmt.Errorf("validator: invalid regex pattern %q: %w", rule.Pattern, err)
	}
	matched, err := re.MatchString(s)
	if err != nil {
		return Report{}, fmt.Errorf("validator: regex evaluation failed for %q: %w", rule.Pattern, err)
	}
	if !matched {
		report.add(regexMismatch(rule.Pattern))
	}
	return report, nil
}

func evaluateNumberRange(rule datatype.Rule, v value.Value) Report {
	var report Report

	n, ok := v.AsNumber()
	if !ok {
		report.add(regexTypeNotAccepted(v.Kind().String()))
		return report
	}
	if n < rule.From || n > rule.To {
		report.add(numberInRange(rule.From, rule.To))
		return report
	}
	if rule.Steps > 0 {
		offset := n - rule.From
		remainder := offset - rule.Steps*float64(int64(offset/rule.Steps+0.5))
		const epsilon = 1e-9
		if remainder > epsilon || remainder < -epsilon {
			report.add(numberInRange(rule.From, rule.To))
		}
	}
	return report
}

func evaluateItemOfCollection(rule datatype.Rule, v value.Value) Report {
	var report Report
	for _, item := range rule.Items {
		if value.Equal(item, v) {
			return report
		}
	}
	report.add(itemOfCollection())
	return report
}

// evaluateContainsKey performs a dotted-path-aware Struct lookup: a key of
// "a.b.c" descends nested Structs.
func evaluateContainsKey(rule datatype.Rule, v value.Value, universe datatype.Universe) (Report, error) {
	var report Report

	sub, ok := lookupDottedKey(v, rule.Key)
	if !ok {
		report.add(containsKey(rule.Key))
		return report, nil
	}

	subType, ok := universe.Lookup(rule.KeyType)
	if !ok {
		report.add(missingDataType(rule.KeyType.String()))
		return report, nil
	}

	subReport, err := evaluate(subType, sub, universe)
	if err != nil {
		return Report{}, err
	}
	report.merge(subReport)
	return report, nil
}

func lookupDottedKey(v value.Value, dottedKey string) (value.Value, bool) {
	cur := v
	for _, segment := range strings.Split(dottedKey, ".") {
		if cur.Kind() != value.KindStruct {
			return value.Value{}, false
		}
		next, ok := cur.Get(segment)
		if !ok {
			return value.Value{}, false
		}
		cur = next
	}
	return cur, true
}

func evaluateContainsType(rule datatype.Rule, v value.Value, universe datatype.Universe) (Report, error) {
	var report Report

	items, ok := v.AsList()
	if !ok {
		report.add(invalidFormat("list", v.Kind().String()))
		return report, nil
	}

	elementType, ok := universe.Lookup(rule.ElementType)
	if !ok {
		report.add(missingDataType(rule.ElementType.String()))
		return report, nil
	}

	for _, item := range items {
		sub, err := evaluate(elementType, item, universe)
		if err != nil {
			return Report{}, err
		}
		report.merge(sub)
	}
	return report, nil
}
