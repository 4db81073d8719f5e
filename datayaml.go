package dsconv

// The YOLO data.yaml dataset description.

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const dataYAMLFile = "data.yaml"

// dataYAML is the subset of data.yaml read by the YOLO adapter.
type dataYAML struct {
	Names      classNames `yaml:"names"`
	License    string     `yaml:"license"`
	LicenseURL string     `yaml:"license_url"`
}

// classNames decodes the names entry, given either as a sequence or as an index to name mapping.
type classNames []string

func (c *classNames) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return err
		}
		*c = names
	case yaml.MappingNode:
		var m map[int]string
		if err := n.Decode(&m); err != nil {
			return err
		}
		ids := make([]int, 0, len(m))
		for id := range m {
			if id < 0 {
				return fmt.Errorf("line %d: negative class index %d", n.Line, id)
			}
			ids = append(ids, id)
		}
		sort.Ints(ids)

		var names []string
		if len(ids) > 0 {
			names = make([]string, ids[len(ids)-1]+1)
		}
		for i := range names {
			if name, ok := m[i]; ok {
				names[i] = name
			} else {
				names[i] = generatedClassName(i)
			}
		}
		*c = names
	default:
		return fmt.Errorf("line %d: names must be a sequence or a mapping", n.Line)
	}
	return nil
}

func generatedClassName(id int) string {
	return fmt.Sprintf("class_%d", id)
}

// parseDataYAML decodes the content of a data.yaml file.
func parseDataYAML(data []byte) (dataYAML, error) {
	var d dataYAML
	if err := yaml.Unmarshal(data, &d); err != nil {
		return dataYAML{}, err
	}
	return d, nil
}

// dataYAMLHeader holds the data.yaml entries that are encoded by the yaml package. The names are
// written separately, as a flow sequence of quoted strings.
type dataYAMLHeader struct {
	Train string `yaml:"train"`
	Val   string `yaml:"val"`
	Test  string `yaml:"test"`
	NC    int    `yaml:"nc"`
}

// marshalDataYAML encodes the data.yaml file for a dataset with the given class names.
func marshalDataYAML(names []string) ([]byte, error) {
	header, err := yaml.Marshal(dataYAMLHeader{
		Train: "../train/images",
		Val:   "../valid/images",
		Test:  "../test/images",
		NC:    len(names),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", dataYAMLFile, err)
	}

	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteString("names: [")
	for i, name := range names {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString("'" + strings.ReplaceAll(name, "'", "''") + "'")
	}
	buf.WriteString("]\n")
	return buf.Bytes(), nil
}
