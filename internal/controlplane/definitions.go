package controlplane

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/mitchellh/mapstructure"

	"github.com/code0-tech/draco-adapter/internal/datatype"
	"github.com/code0-tech/draco-adapter/internal/value"
)

// Skipped records one definition quarantined by LoadBundle because its
// identifier collided with one already loaded. Duplicates are reported
// instead of silently shadowing the first definition.
type Skipped struct {
	Kind       string
	Identifier string
	Path       string
	Reason     string
}

// Bundle is the local DEFINITION_PATH directory decoded into Definitions,
// plus whatever duplicates were quarantined along the way.
type Bundle struct {
	Definitions Definitions
	Skipped     []Skipped
}

// fileDataType is the YAML-decodable shape of one data_types/*.yaml entry.
type fileDataType struct {
	Identifier       string     `mapstructure:"identifier"`
	ParentIdentifier string     `mapstructure:"parent_identifier"`
	Rules            []fileRule `mapstructure:"rules"`
}

type fileRule struct {
	Kind        string   `mapstructure:"kind"`
	Pattern     string   `mapstructure:"pattern"`
	From        float64  `mapstructure:"from"`
	To          float64  `mapstructure:"to"`
	Steps       float64  `mapstructure:"steps"`
	Items       []string `mapstructure:"items"`
	Key         string   `mapstructure:"key"`
	KeyType     string   `mapstructure:"key_type"`
	ElementType string   `mapstructure:"element_type"`
}

type fileFlowType struct {
	FlowID              string `mapstructure:"flow_id"`
	StartingNodeID      string `mapstructure:"starting_node_id"`
	InputTypeIdentifier string `mapstructure:"input_type_identifier"`
}

// LoadBundle reads every *.yaml file under dir/data_types and
// dir/flow_types, decodes it, and quarantines (rather than overwrites) any
// definition whose identifier repeats an earlier one. A missing dir is not
// an error: it simply yields an empty bundle, since the DEFINITION_PATH
// directory only exists when the operator opted into local definitions.
func LoadBundle(dir string) (Bundle, error) {
	var bundle Bundle
	seenDataTypes := make(map[string]string)
	seenFlowTypes := make(map[string]string)

	dataTypeFiles, err := sortedYAMLFiles(filepath.Join(dir, "data_types"))
	if err != nil {
		return Bundle{}, err
	}
	for _, path := range dataTypeFiles {
		dt, err := decodeDataTypeFile(path)
		if err != nil {
			return Bundle{}, fmt.Errorf("controlplane: decode %s: %w", path, err)
		}
		id := dt.Identifier.String()
		if first, dup := seenDataTypes[id]; dup {
			bundle.Skipped = append(bundle.Skipped, Skipped{
				Kind:       "data_type",
				Identifier: id,
				Path:       path,
				Reason:     fmt.Sprintf("identifier already defined in %s", first),
			})
			continue
		}
		seenDataTypes[id] = path
		bundle.Definitions.DataTypes = append(bundle.Definitions.DataTypes, dt)
	}

	flowTypeFiles, err := sortedYAMLFiles(filepath.Join(dir, "flow_types"))
	if err != nil {
		return Bundle{}, err
	}
	for _, path := range flowTypeFiles {
		ft, err := decodeFlowTypeFile(path)
		if err != nil {
			return Bundle{}, fmt.Errorf("controlplane: decode %s: %w", path, err)
		}
		if first, dup := seenFlowTypes[ft.FlowID]; dup {
			bundle.Skipped = append(bundle.Skipped, Skipped{
				Kind:       "flow_type",
				Identifier: ft.FlowID,
				Path:       path,
				Reason:     fmt.Sprintf("flow_id already defined in %s", first),
			})
			continue
		}
		seenFlowTypes[ft.FlowID] = path
		bundle.Definitions.FlowTypes = append(bundle.Definitions.FlowTypes, ft)
	}

	return bundle, nil
}

func sortedYAMLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("controlplane: read %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func decodeDataTypeFile(path string) (datatype.DataType, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return datatype.DataType{}, err
	}
	m, err := koanfyaml.Parser().Unmarshal(raw)
	if err != nil {
		return datatype.DataType{}, fmt.Errorf("parse yaml: %w", err)
	}
	var decoded fileDataType
	if err := mapstructure.Decode(m, &decoded); err != nil {
		return datatype.DataType{}, fmt.Errorf("decode: %w", err)
	}

	dt := datatype.DataType{Identifier: datatype.Concrete(decoded.Identifier)}
	if decoded.ParentIdentifier != "" {
		parent := datatype.Concrete(decoded.ParentIdentifier)
		dt.ParentIdentifier = &parent
	}
	for _, r := range decoded.Rules {
		rule, err := toRule(r)
		if err != nil {
			return datatype.DataType{}, fmt.Errorf("rule: %w", err)
		}
		dt.Rules = append(dt.Rules, rule)
	}
	return dt, nil
}

func toRule(r fileRule) (datatype.Rule, error) {
	kind, err := datatype.ParseRuleKind(r.Kind)
	if err != nil {
		return datatype.Rule{}, err
	}
	switch kind {
	case datatype.RuleRegex:
		return datatype.RegexRule(r.Pattern), nil
	case datatype.RuleNumberRange:
		return datatype.NumberRangeRule(r.From, r.To, r.Steps), nil
	case datatype.RuleItemOfCollection:
		items := make([]value.Value, len(r.Items))
		for i, it := range r.Items {
			items[i] = value.String(it)
		}
		return datatype.ItemOfCollectionRule(items...), nil
	case datatype.RuleContainsKey:
		return datatype.ContainsKeyRule(r.Key, datatype.Concrete(r.KeyType)), nil
	default:
		return datatype.ContainsTypeRule(datatype.Concrete(r.ElementType)), nil
	}
}

func decodeFlowTypeFile(path string) (FlowType, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FlowType{}, err
	}
	m, err := koanfyaml.Parser().Unmarshal(raw)
	if err != nil {
		return FlowType{}, fmt.Errorf("parse yaml: %w", err)
	}
	var decoded fileFlowType
	if err := mapstructure.Decode(m, &decoded); err != nil {
		return FlowType{}, fmt.Errorf("decode: %w", err)
	}

	ft := FlowType{FlowID: decoded.FlowID, StartingNodeID: decoded.StartingNodeID}
	if decoded.InputTypeIdentifier != "" {
		id := datatype.Concrete(decoded.InputTypeIdentifier)
		ft.InputTypeIdentifier = &id
	}
	return ft, nil
}
