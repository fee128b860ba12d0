package validator

// ViolationType is the closed set of violation kinds a Report can carry.
type ViolationType string

const (
	ViolationMissingDataType              ViolationType = "MissingDataType"
	ViolationContainsKey                  ViolationType = "ContainsKey"
	ViolationRegex                        ViolationType = "Regex"
	ViolationRegexTypeNotAccepted         ViolationType = "RegexTypeNotAccepted"
	ViolationDataTypeNotFound             ViolationType = "DataTypeNotFound"
	ViolationNumberInRange                ViolationType = "NumberInRange"
	ViolationItemOfCollection             ViolationType = "ItemOfCollection"
	ViolationInvalidFormat                ViolationType = "InvalidFormat"
	ViolationDataTypeIdentifierNotPresent ViolationType = "DataTypeIdentifierNotPresent"
	ViolationGenericKeyNotAllowed         ViolationType = "GenericKeyNotAllowed"
)

// Violation is a single rule failure, serialized as
// {"type","explanation","details"}.
type Violation struct {
	Type        ViolationType  `json:"type"`
	Explanation string         `json:"explanation"`
	Details     map[string]any `json:"details,omitempty"`
}

// Report is the accumulated result of a failed Verify call. MarshalReport
// renders it as {error, violation_count, violations}.
type Report struct {
	Violations []Violation `json:"violations"`
}

func (r *Report) add(v Violation) {
	r.Violations = append(r.Violations, v)
}

func (r *Report) merge(other Report) {
	r.Violations = append(r.Violations, other.Violations...)
}

func (r Report) Empty() bool { return len(r.Violations) == 0 }

// Error satisfies the error interface so Report can be returned/wrapped by
// callers that prefer Go's error idiom while still exposing the structured
// violation list.
func (r Report) Error() string {
	if r.Empty() {
		return "validator: no violations"
	}
	return r.Violations[0].Explanation
}

// MarshalReport renders the stable wire shape returned to trigger sources.
func MarshalReport(r Report) map[string]any {
	return map[string]any{
		"error":           !r.Empty(),
		"violation_count": len(r.Violations),
		"violations":      r.Violations,
	}
}

func missingDataType(id string) Violation {
	return Violation{
		Type:        ViolationMissingDataType,
		Explanation: "referenced data type is not present in the flow's type universe: " + id,
		Details:     map[string]any{"missing_type": id},
	}
}

func containsKey(key string) Violation {
	return Violation{
		Type:        ViolationContainsKey,
		Explanation: "missing required key: " + key,
		Details:     map[string]any{"missing_key": key},
	}
}

func regexMismatch(pattern string) Violation {
	return Violation{
		Type:        ViolationRegex,
		Explanation: "value does not match pattern: " + pattern,
		Details:     map[string]any{"pattern": pattern},
	}
}

func regexTypeNotAccepted(kind string) Violation {
	return Violation{
		Type:        ViolationRegexTypeNotAccepted,
		Explanation: "value of kind " + kind + " cannot be stringified for a regex rule",
		Details:     map[string]any{"kind": kind},
	}
}

func dataTypeNotFound(id string) Violation {
	return Violation{
		Type:        ViolationDataTypeNotFound,
		Explanation: "data type not found: " + id,
		Details:     map[string]any{"data_type": id},
	}
}

func numberInRange(from, to float64) Violation {
	return Violation{
		Type:        ViolationNumberInRange,
		Explanation: "value is out of the permitted numeric range or step",
		Details:     map[string]any{"from": from, "to": to},
	}
}

func itemOfCollection() Violation {
	return Violation{
		Type:        ViolationItemOfCollection,
		Explanation: "value does not match any item of the collection",
	}
}

func invalidFormat(expected, got string) Violation {
	return Violation{
		Type:        ViolationInvalidFormat,
		Explanation: "expected " + expected + " but found " + got,
		Details:     map[string]any{"expected": expected, "got": got},
	}
}
