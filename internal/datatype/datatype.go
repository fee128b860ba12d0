// Package datatype models the rule-based type system: named DataTypes,
// identifiers (concrete or generic-parameter references), and the five
// built-in rule kinds that constrain a Value.
package datatype

import (
	"fmt"
	"strings"

	"github.com/code0-tech/draco-adapter/internal/value"
)

// Identifier is either a concrete type name ("HTTP_URL") or a reference to a
// generic parameter declared by an enclosing type. Generic parameters are
// written "$<name>" on the wire; IsGeneric reports whether this
// identifier names one.
type Identifier struct {
	Name string
}

func Concrete(name string) Identifier { return Identifier{Name: name} }

func Generic(name string) Identifier { return Identifier{Name: "$" + name} }

func (id Identifier) IsGeneric() bool {
	return len(id.Name) > 0 && id.Name[0] == '$'
}

func (id Identifier) String() string { return id.Name }

// DataType is a named collection of rules constraining a Value, optionally
// inheriting from a parent identifier.
type DataType struct {
	Identifier       Identifier
	ParentIdentifier *Identifier
	Rules            []Rule
}

// Universe is the closed set of DataTypes a ValidationFlow declares; it is
// what ContainsKey/ContainsType rules resolve nested type references
// against.
type Universe map[string]DataType

func (u Universe) Lookup(id Identifier) (DataType, bool) {
	dt, ok := u[id.Name]
	return dt, ok
}

// RuleKind identifies which of the five closed rule variants a Rule is.
type RuleKind uint8

const (
	RuleRegex RuleKind = iota
	RuleNumberRange
	RuleItemOfCollection
	RuleContainsKey
	RuleContainsType
)

// Rule is one constraint attached to a DataType. Exactly the fields for its
// Kind are meaningful; the closed rule set is a single struct rather than
// an interface hierarchy so every interpreter can pattern-match on Kind.
type Rule struct {
	Kind RuleKind

	// Regex
	Pattern string

	// NumberRange
	From  float64
	To    float64
	Steps float64

	// ItemOfCollection
	Items []value.Value

	// ContainsKey
	Key     string
	KeyType Identifier

	// ContainsType
	ElementType Identifier
}

func RegexRule(pattern string) Rule {
	return Rule{Kind: RuleRegex, Pattern: pattern}
}

func NumberRangeRule(from, to, steps float64) Rule {
	return Rule{Kind: RuleNumberRange, From: from, To: to, Steps: steps}
}

func ItemOfCollectionRule(items ...value.Value) Rule {
	return Rule{Kind: RuleItemOfCollection, Items: items}
}

func ContainsKeyRule(key string, typeID Identifier) Rule {
	return Rule{Kind: RuleContainsKey, Key: key, KeyType: typeID}
}

func ContainsTypeRule(elementType Identifier) Rule {
	return Rule{Kind: RuleContainsType, ElementType: elementType}
}

// String returns the wire/YAML name for the rule kind, the single
// vocabulary both the local definition files (internal/controlplane) and
// the registry wire encoding (internal/wire) use.
func (k RuleKind) String() string {
	switch k {
	case RuleRegex:
		return "regex"
	case RuleNumberRange:
		return "number_range"
	case RuleItemOfCollection:
		return "item_of_collection"
	case RuleContainsKey:
		return "contains_key"
	case RuleContainsType:
		return "contains_type"
	default:
		return "unknown"
	}
}

// ParseRuleKind parses the wire/YAML rule kind name back into a RuleKind.
func ParseRuleKind(s string) (RuleKind, error) {
	switch strings.ToLower(s) {
	case "regex":
		return RuleRegex, nil
	case "number_range":
		return RuleNumberRange, nil
	case "item_of_collection":
		return RuleItemOfCollection, nil
	case "contains_key":
		return RuleContainsKey, nil
	case "contains_type":
		return RuleContainsType, nil
	default:
		return 0, fmt.Errorf("datatype: unknown rule kind %q", s)
	}
}
