package domain

import (
	"errors"
	"strings"
)

// RunMode selects the job-graph variant a run is patched for.
type RunMode string

const (
	ModePrimary RunMode = "primary"
	ModeRefine  RunMode = "refine-from-image"
)

func NormalizeRunMode(value string) RunMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ModePrimary), "", "txt2img":
		return ModePrimary
	case string(ModeRefine), "refine", "img2img":
		return ModeRefine
	default:
		return ""
	}
}

// LoraEntry is one slot of the LoRA stack.
type LoraEntry struct {
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"`
	Enabled bool    `json:"enabled"`
}

// ControlParams configures the optional control-signal branch.
type ControlParams struct {
	Enabled        bool     `json:"enabled"`
	Model          string   `json:"model,omitempty"`
	Preprocessor   string   `json:"preprocessor,omitempty"`
	PreprocessorOn bool     `json:"preprocessor_on,omitempty"`
	Strength       *float64 `json:"strength,omitempty"`
	Image          string   `json:"image,omitempty"`
}

// SamplerOverrides carries optional sampler settings. Seed -1 requests a
// randomized seed; Sampler is an accepted alias for SamplerName.
type SamplerOverrides struct {
	Steps       *int     `json:"steps,omitempty"`
	CFG         *float64 `json:"cfg,omitempty"`
	SamplerName string   `json:"sampler_name,omitempty"`
	Sampler     string   `json:"sampler,omitempty"`
	Scheduler   string   `json:"scheduler,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
	Denoise     *float64 `json:"denoise,omitempty"`
}

// EffectiveSamplerName resolves the alias: sampler_name wins when both
// are present.
func (o SamplerOverrides) EffectiveSamplerName() string {
	if strings.TrimSpace(o.SamplerName) != "" {
		return o.SamplerName
	}
	return strings.TrimSpace(o.Sampler)
}

// GenerateParams is the structured parameter set applied to a template.
type GenerateParams struct {
	Mode           RunMode           `json:"mode"`
	Checkpoint     string            `json:"checkpoint,omitempty"`
	PositivePrompt string            `json:"positive_prompt"`
	NegativePrompt string            `json:"negative_prompt,omitempty"`
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	Loras          []LoraEntry       `json:"loras,omitempty"`
	Control        ControlParams     `json:"control"`
	Sampler        *SamplerOverrides `json:"sampler,omitempty"`
	InitImage      string            `json:"init_image,omitempty"`
}

func (p GenerateParams) Validate() error {
	if NormalizeRunMode(string(p.Mode)) == "" {
		return errors.New("unknown mode")
	}
	if p.Width < 0 || p.Height < 0 {
		return errors.New("dimensions must be non-negative")
	}
	for _, lora := range p.Loras {
		if lora.Enabled && strings.TrimSpace(lora.Name) == "" {
			return errors.New("enabled lora requires a name")
		}
	}
	return nil
}
