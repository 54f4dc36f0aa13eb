package loader

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// File is the top level of an evaluation definition file.
type File struct {
	Evals []Definition `yaml:"evals"`
}

// Definition declares one evaluation. Task, scorer and parameter values are
// registry names.
type Definition struct {
	Name           string            `yaml:"name"`
	ExperimentName string            `yaml:"experiment_name"`
	Project        string            `yaml:"project"`
	Data           DataDefinition    `yaml:"data"`
	Task           string            `yaml:"task"`
	Scores         []ScoreRef        `yaml:"scores"`
	Parameters     map[string]string `yaml:"parameters"`
	Parallelism    int               `yaml:"parallelism"`
	Tags           []string          `yaml:"tags"`
	Metadata       map[string]any    `yaml:"metadata"`
}

// DataDefinition says where the evaluation's cases come from.
type DataDefinition struct {
	Dataset   string `yaml:"dataset"`
	DatasetID string `yaml:"dataset_id"`
	// Project owns Dataset. Defaults to the evaluation's project.
	Project string `yaml:"project"`
	Inline  []any  `yaml:"inline"`
}

// ScoreRef is either a registry name or {hosted: slug} for a scorer stored
// in Braintrust.
type ScoreRef struct {
	Name   string
	Hosted string
}

// UnmarshalYAML accepts a plain scalar or a {hosted: slug} mapping.
func (s *ScoreRef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Name = node.Value
		return nil
	case yaml.MappingNode:
		var hosted struct {
			Hosted string `yaml:"hosted"`
		}
		if err := node.Decode(&hosted); err != nil {
			return err
		}
		s.Hosted = hosted.Hosted
		return nil
	default:
		return fmt.Errorf("line %d: score must be a name or {hosted: slug}", node.Line)
	}
}

const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["evals"],
  "additionalProperties": false,
  "properties": {
    "evals": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "project", "task"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "experiment_name": {"type": "string"},
          "project": {"type": "string", "minLength": 1},
          "task": {"type": "string", "minLength": 1},
          "data": {
            "type": "object",
            "additionalProperties": false,
            "properties": {
              "dataset": {"type": "string", "minLength": 1},
              "dataset_id": {"type": "string", "minLength": 1},
              "project": {"type": "string", "minLength": 1},
              "inline": {"type": "array"}
            }
          },
          "scores": {
            "type": "array",
            "items": {
              "oneOf": [
                {"type": "string", "minLength": 1},
                {
                  "type": "object",
                  "required": ["hosted"],
                  "additionalProperties": false,
                  "properties": {"hosted": {"type": "string", "minLength": 1}}
                }
              ]
            }
          },
          "parameters": {
            "type": "object",
            "additionalProperties": {"type": "string", "minLength": 1}
          },
          "parallelism": {"type": "integer", "minimum": 1},
          "tags": {"type": "array", "items": {"type": "string"}},
          "metadata": {"type": "object"}
        }
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionSchema))
})

// parseDefinition decodes a definition file and checks it against the
// definition schema.
func parseDefinition(data []byte) (*File, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("file is empty")
	}

	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling definition schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validating: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid definition: %v", msgs)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding definition: %w", err)
	}
	return &f, nil
}
