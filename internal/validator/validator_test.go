package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code0-tech/draco-adapter/internal/datatype"
	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/value"
)

func idOf(name string) *datatype.Identifier {
	id := datatype.Concrete(name)
	return &id
}

func flowWithUniverse(inputType *datatype.Identifier, universe datatype.Universe) flow.ValidationFlow {
	return flow.ValidationFlow{
		FlowID:              "f1",
		InputTypeIdentifier: inputType,
		DataTypes:           universe,
	}
}

// A flow with no InputTypeIdentifier accepts any input.
func TestVerify_NoInputType_AlwaysOk(t *testing.T) {
	f := flow.ValidationFlow{FlowID: "f1"}
	report, ok := Verify(f, value.String("anything"))
	require.True(t, ok)
	require.True(t, report.Empty())
}

func TestVerify_UnknownRootType_DataTypeNotFound(t *testing.T) {
	f := flowWithUniverse(idOf("MISSING"), datatype.Universe{})
	report, ok := Verify(f, value.String("x"))
	require.False(t, ok)
	require.Len(t, report.Violations, 1)
	require.Equal(t, ViolationDataTypeNotFound, report.Violations[0].Type)
}

func TestVerify_Regex_MismatchAndAccept(t *testing.T) {
	universe := datatype.Universe{
		"SLUG": datatype.DataType{
			Identifier: datatype.Concrete("SLUG"),
			Rules:      []datatype.Rule{datatype.RegexRule(`^[a-z]+$`)},
		},
	}
	f := flowWithUniverse(idOf("SLUG"), universe)

	_, ok := Verify(f, value.String("not-valid"))
	require.False(t, ok)

	report, ok := Verify(f, value.String("valid"))
	require.True(t, ok)
	require.True(t, report.Empty())
}

func TestVerify_Regex_NonStringifiableRejected(t *testing.T) {
	universe := datatype.Universe{
		"SLUG": datatype.DataType{
			Identifier: datatype.Concrete("SLUG"),
			Rules:      []datatype.Rule{datatype.RegexRule(`^[a-z]+$`)},
		},
	}
	f := flowWithUniverse(idOf("SLUG"), universe)
	report, ok := Verify(f, value.List(value.String("a")))
	require.False(t, ok)
	require.Equal(t, ViolationRegexTypeNotAccepted, report.Violations[0].Type)
}

func TestVerify_NumberRange(t *testing.T) {
	universe := datatype.Universe{
		"PORT": datatype.DataType{
			Identifier: datatype.Concrete("PORT"),
			Rules:      []datatype.Rule{datatype.NumberRangeRule(1, 65535, 0)},
		},
	}
	f := flowWithUniverse(idOf("PORT"), universe)

	_, ok := Verify(f, value.Number(0))
	require.False(t, ok)

	report, ok := Verify(f, value.Number(8080))
	require.True(t, ok)
	require.True(t, report.Empty())
}

func TestVerify_NumberRange_Steps(t *testing.T) {
	universe := datatype.Universe{
		"EVEN": datatype.DataType{
			Identifier: datatype.Concrete("EVEN"),
			Rules:      []datatype.Rule{datatype.NumberRangeRule(0, 100, 2)},
		},
	}
	f := flowWithUniverse(idOf("EVEN"), universe)

	report, ok := Verify(f, value.Number(4))
	require.True(t, ok)
	require.True(t, report.Empty())

	_, ok = Verify(f, value.Number(5))
	require.False(t, ok)
}

func TestVerify_ItemOfCollection(t *testing.T) {
	universe := datatype.Universe{
		"COLOR": datatype.DataType{
			Identifier: datatype.Concrete("COLOR"),
			Rules: []datatype.Rule{
				datatype.ItemOfCollectionRule(value.String("red"), value.String("green"), value.String("blue")),
			},
		},
	}
	f := flowWithUniverse(idOf("COLOR"), universe)

	report, ok := Verify(f, value.String("green"))
	require.True(t, ok)
	require.True(t, report.Empty())

	_, ok = Verify(f, value.String("purple"))
	require.False(t, ok)
}

// Violations accumulate across rules instead of short-circuiting.
func TestVerify_AccumulatesMultipleViolations(t *testing.T) {
	universe := datatype.Universe{
		"STRICT": datatype.DataType{
			Identifier: datatype.Concrete("STRICT"),
			Rules: []datatype.Rule{
				datatype.RegexRule(`^[a-z]+$`),
				datatype.ItemOfCollectionRule(value.String("onlythis")),
			},
		},
	}
	f := flowWithUniverse(idOf("STRICT"), universe)

	report, ok := Verify(f, value.String("NOT-VALID"))
	require.False(t, ok)
	require.Len(t, report.Violations, 2)
	require.Equal(t, ViolationRegex, report.Violations[0].Type)
	require.Equal(t, ViolationItemOfCollection, report.Violations[1].Type)
}

// ContainsKey recurses into a nested DataType from the shared universe,
// including a dotted path through two levels of Struct.
func TestVerify_ContainsKey_RecursesAndDotted(t *testing.T) {
	universe := datatype.Universe{
		"USER": datatype.DataType{
			Identifier: datatype.Concrete("USER"),
			Rules: []datatype.Rule{
				datatype.ContainsKeyRule("name", datatype.Concrete("NAME")),
				datatype.ContainsKeyRule("address.city", datatype.Concrete("NAME")),
			},
		},
		"NAME": datatype.DataType{
			Identifier: datatype.Concrete("NAME"),
			Rules:      []datatype.Rule{datatype.RegexRule(`^[A-Za-z]+$`)},
		},
	}
	f := flowWithUniverse(idOf("USER"), universe)

	good := value.Struct(
		value.Field("name", value.String("Ada")),
		value.Field("address", value.Struct(value.Field("city", value.String("Berlin")))),
	)
	report, ok := Verify(f, good)
	require.True(t, ok)
	require.True(t, report.Empty())

	missingKey := value.Struct(value.Field("name", value.String("Ada")))
	report, ok = Verify(f, missingKey)
	require.False(t, ok)
	require.Contains(t, violationTypes(report), ViolationContainsKey)

	badNested := value.Struct(
		value.Field("name", value.String("Ada")),
		value.Field("address", value.Struct(value.Field("city", value.String("123")))),
	)
	report, ok = Verify(f, badNested)
	require.False(t, ok)
	require.Contains(t, violationTypes(report), ViolationRegex)
}

func TestVerify_ContainsKey_MissingUniverseEntry(t *testing.T) {
	universe := datatype.Universe{
		"USER": datatype.DataType{
			Identifier: datatype.Concrete("USER"),
			Rules:      []datatype.Rule{datatype.ContainsKeyRule("name", datatype.Concrete("GHOST"))},
		},
	}
	f := flowWithUniverse(idOf("USER"), universe)
	report, ok := Verify(f, value.Struct(value.Field("name", value.String("Ada"))))
	require.False(t, ok)
	require.Equal(t, ViolationMissingDataType, report.Violations[0].Type)
}

func TestVerify_ContainsType_ValidatesEachElement(t *testing.T) {
	universe := datatype.Universe{
		"TAGS": datatype.DataType{
			Identifier: datatype.Concrete("TAGS"),
			Rules:      []datatype.Rule{datatype.ContainsTypeRule(datatype.Concrete("TAG"))},
		},
		"TAG": datatype.DataType{
			Identifier: datatype.Concrete("TAG"),
			Rules:      []datatype.Rule{datatype.RegexRule(`^[a-z]+$`)},
		},
	}
	f := flowWithUniverse(idOf("TAGS"), universe)

	report, ok := Verify(f, value.List(value.String("a"), value.String("b")))
	require.True(t, ok)
	require.True(t, report.Empty())

	_, ok = Verify(f, value.List(value.String("a"), value.String("BAD")))
	require.False(t, ok)
}

func TestVerify_ContainsType_NotAList(t *testing.T) {
	universe := datatype.Universe{
		"TAGS": datatype.DataType{
			Identifier: datatype.Concrete("TAGS"),
			Rules:      []datatype.Rule{datatype.ContainsTypeRule(datatype.Concrete("TAG"))},
		},
	}
	f := flowWithUniverse(idOf("TAGS"), universe)
	report, ok := Verify(f, value.String("not a list"))
	require.False(t, ok)
	require.Equal(t, ViolationInvalidFormat, report.Violations[0].Type)
}

// Verify is pure: calling it twice with the same arguments produces
// identical reports and never mutates the flow or the input.
func TestVerify_Pure_RepeatedCallsIdentical(t *testing.T) {
	universe := datatype.Universe{
		"SLUG": datatype.DataType{
			Identifier: datatype.Concrete("SLUG"),
			Rules:      []datatype.Rule{datatype.RegexRule(`^[a-z]+$`)},
		},
	}
	f := flowWithUniverse(idOf("SLUG"), universe)
	input := value.String("NOPE")

	report1, ok1 := Verify(f, input)
	report2, ok2 := Verify(f, input)
	require.Equal(t, ok1, ok2)
	require.Equal(t, report1, report2)
}

func TestMarshalReport_Shape(t *testing.T) {
	var report Report
	report.add(regexMismatch("^a+$"))
	m := MarshalReport(report)
	require.Equal(t, true, m["error"])
	require.Equal(t, 1, m["violation_count"])
}

func violationTypes(r Report) []ViolationType {
	out := make([]ViolationType, len(r.Violations))
	for i, v := range r.Violations {
		out[i] = v.Type
	}
	return out
}
