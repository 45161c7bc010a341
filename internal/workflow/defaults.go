package workflow

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/easel-labs/easel-go/internal/domain"
)

// LoraDefault is one occupied slot of the template's LoRA stack.
type LoraDefault struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Defaults are the generation parameters baked into the template,
// surfaced so clients can prefill forms without parsing the graph.
type Defaults struct {
	Checkpoint          string        `json:"checkpoint"`
	PositivePrompt      string        `json:"positive_prompt"`
	NegativePrompt      string        `json:"negative_prompt"`
	Width               int           `json:"width"`
	Height              int           `json:"height"`
	Steps               int           `json:"steps"`
	CFG                 float64       `json:"cfg"`
	SamplerName         string        `json:"sampler_name"`
	Scheduler           string        `json:"scheduler"`
	Denoise             float64       `json:"denoise"`
	Seed                int64         `json:"seed"`
	Loras               []LoraDefault `json:"loras"`
	ControlEnabled      bool          `json:"control_enabled"`
	ControlModel        string        `json:"control_model"`
	ControlPreprocessor string        `json:"control_preprocessor"`
	ControlStrength     float64       `json:"control_strength"`
}

// Store loads the workflow template once and caches both the parsed
// graph and the defaults read out of it.
type Store struct {
	path  string
	roles NodeRoles

	once     sync.Once
	graph    domain.Graph
	defaults Defaults
	err      error
}

func NewStore(path string, roles NodeRoles) *Store {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return &Store{path: path, roles: roles}
}

func (s *Store) Roles() NodeRoles { return s.roles }

// Template returns a copy of the cached graph so callers can patch it
// without disturbing later runs.
func (s *Store) Template() (domain.Graph, error) {
	s.load()
	if s.err != nil {
		return nil, s.err
	}
	return s.graph.Clone()
}

func (s *Store) Defaults() (Defaults, error) {
	s.load()
	if s.err != nil {
		return Defaults{}, s.err
	}
	return s.defaults, nil
}

func (s *Store) load() {
	s.once.Do(func() {
		graph, err := LoadTemplate(s.path)
		if err != nil {
			s.err = err
			return
		}
		defaults, err := extractDefaults(graph, s.roles)
		if err != nil {
			s.err = fmt.Errorf("extract defaults: %w", err)
			return
		}
		s.graph = graph
		s.defaults = defaults
	})
}

func extractDefaults(g domain.Graph, roles NodeRoles) (Defaults, error) {
	loader, err := NodeInputs(g, roles.PrimaryLoader, "primary loader")
	if err != nil {
		return Defaults{}, err
	}
	sampler, err := NodeInputs(g, roles.Sampler, "sampler")
	if err != nil {
		return Defaults{}, err
	}
	stack, err := NodeInputs(g, roles.LoraStack, "lora stack")
	if err != nil {
		return Defaults{}, err
	}

	d := Defaults{
		Checkpoint:     stringField(loader, "ckpt_name", ""),
		PositivePrompt: stringField(loader, "positive", ""),
		NegativePrompt: stringField(loader, "negative", ""),
		Width:          intField(loader, "empty_latent_width", 512),
		Height:         intField(loader, "empty_latent_height", 512),
		Steps:          intField(sampler, "steps", 20),
		CFG:            floatField(sampler, "cfg", 7),
		SamplerName:    stringField(sampler, "sampler_name", ""),
		Scheduler:      stringField(sampler, "scheduler", ""),
		Denoise:        floatField(sampler, "denoise", 1),
		Seed:           int64(floatField(sampler, "seed", 0)),
		Loras:          stackDefaults(stack),
	}

	if ctrl, err := NodeInputs(g, roles.ControlLoader, "control loader"); err == nil {
		d.ControlModel = stringField(ctrl, "control_net_name", "")
	}
	if pre, err := NodeInputs(g, roles.ControlPreprocessor, "preprocessor selector"); err == nil {
		d.ControlPreprocessor = stringField(pre, "preprocessor", "")
	}
	if stacker, err := NodeInputs(g, roles.ControlStacker, "control stacker"); err == nil {
		d.ControlStrength = floatField(stacker, "strength", 0)
		d.ControlEnabled = d.ControlStrength > 0
	}
	return d, nil
}

func stackDefaults(inputs map[string]any) []LoraDefault {
	count := intField(inputs, "lora_count", 0)
	if count <= 0 {
		return nil
	}
	if count > maxLoraSlots {
		count = maxLoraSlots
	}
	var loras []LoraDefault
	for i := 1; i <= count; i++ {
		name := stringField(inputs, fmt.Sprintf("lora_name_%d", i), "")
		if name == "" || strings.EqualFold(name, loraNoneSentinel) {
			continue
		}
		loras = append(loras, LoraDefault{
			Name:   name,
			Weight: floatField(inputs, fmt.Sprintf("lora_wt_%d", i), 1),
		})
	}
	return loras
}

func stringField(inputs map[string]any, key, fallback string) string {
	if v, ok := inputs[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// floatField tolerates malformed templates: non-numeric, NaN, and
// infinite values all fall back.
func floatField(inputs map[string]any, key string, fallback float64) float64 {
	v, ok := inputs[key]
	if !ok {
		return fallback
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return fallback
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return f
}

func intField(inputs map[string]any, key string, fallback int) int {
	return int(floatField(inputs, key, float64(fallback)))
}
