package workflow

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeRoles binds the logical roles the patcher needs to concrete node
// ids of a template. Alternate templates supply their own role document
// instead of code changes.
type NodeRoles struct {
	PrimaryLoader       string `yaml:"primary_loader" json:"primary_loader"`
	RefineLoader        string `yaml:"refine_loader" json:"refine_loader"`
	LoraStack           string `yaml:"lora_stack" json:"lora_stack"`
	Sampler             string `yaml:"sampler" json:"sampler"`
	InitImage           string `yaml:"init_image" json:"init_image"`
	ControlLoader       string `yaml:"control_loader" json:"control_loader"`
	ControlPreprocessor string `yaml:"control_preprocessor" json:"control_preprocessor"`
	ControlStacker      string `yaml:"control_stacker" json:"control_stacker"`
	ControlImage        string `yaml:"control_image" json:"control_image"`
}

// DefaultNodeRoles matches the node ids of the bundled template.
func DefaultNodeRoles() NodeRoles {
	return NodeRoles{
		PrimaryLoader:       "11",
		RefineLoader:        "16",
		LoraStack:           "10",
		Sampler:             "3",
		InitImage:           "14",
		ControlLoader:       "22",
		ControlPreprocessor: "23",
		ControlStacker:      "24",
		ControlImage:        "25",
	}
}

func LoadNodeRoles(path string) (NodeRoles, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return NodeRoles{}, fmt.Errorf("read roles: %w", err)
	}
	var roles NodeRoles
	if err := yaml.Unmarshal(raw, &roles); err != nil {
		return NodeRoles{}, fmt.Errorf("decode roles: %w", err)
	}
	if err := roles.Validate(); err != nil {
		return NodeRoles{}, err
	}
	return roles, nil
}

func (r NodeRoles) Validate() error {
	required := map[string]string{
		"primary_loader":       r.PrimaryLoader,
		"refine_loader":        r.RefineLoader,
		"lora_stack":           r.LoraStack,
		"sampler":              r.Sampler,
		"init_image":           r.InitImage,
		"control_loader":       r.ControlLoader,
		"control_preprocessor": r.ControlPreprocessor,
		"control_stacker":      r.ControlStacker,
		"control_image":        r.ControlImage,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return errors.New(name + " node id is required")
		}
	}
	return nil
}
