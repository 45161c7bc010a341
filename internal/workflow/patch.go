package workflow

import (
	"fmt"

	"github.com/easel-labs/easel-go/internal/domain"
)

const (
	maxLoraSlots     = 50
	loraNoneSentinel = "None"
)

// BuildWorkflow produces a submission-ready graph from the template and
// the request parameters. The template itself is never mutated.
func BuildWorkflow(template domain.Graph, roles NodeRoles, params domain.GenerateParams) (domain.Graph, error) {
	if err := roles.Validate(); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	graph, err := template.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone template: %w", err)
	}

	mode := domain.NormalizeRunMode(string(params.Mode))
	if err := patchLoader(graph, roles, mode, params); err != nil {
		return nil, err
	}
	if err := patchLoraStack(graph, roles, params.Loras); err != nil {
		return nil, err
	}
	if err := patchSampler(graph, roles, mode, params.Sampler); err != nil {
		return nil, err
	}
	if mode == domain.ModeRefine && params.InitImage != "" {
		inputs, err := NodeInputs(graph, roles.InitImage, "init image")
		if err != nil {
			return nil, err
		}
		inputs["image"] = params.InitImage
	}
	if err := patchControl(graph, roles, params.Control); err != nil {
		return nil, err
	}
	return graph, nil
}

func patchLoader(graph domain.Graph, roles NodeRoles, mode domain.RunMode, params domain.GenerateParams) error {
	nodeID, role := roles.PrimaryLoader, "primary loader"
	if mode == domain.ModeRefine {
		nodeID, role = roles.RefineLoader, "refine loader"
	}
	inputs, err := NodeInputs(graph, nodeID, role)
	if err != nil {
		return err
	}
	if params.Checkpoint != "" {
		inputs["ckpt_name"] = params.Checkpoint
	}
	inputs["positive"] = params.PositivePrompt
	inputs["negative"] = params.NegativePrompt
	// Refine runs inherit dimensions from the reference image.
	if mode == domain.ModePrimary {
		if params.Width > 0 {
			inputs["empty_latent_width"] = params.Width
		}
		if params.Height > 0 {
			inputs["empty_latent_height"] = params.Height
		}
	}
	return nil
}

// patchLoraStack rewrites the stack wholesale. Every slot up to the
// larger of the template's occupancy and the request's is written
// explicitly, so stale template entries cannot leak into a run.
func patchLoraStack(graph domain.Graph, roles NodeRoles, loras []domain.LoraEntry) error {
	inputs, err := NodeInputs(graph, roles.LoraStack, "lora stack")
	if err != nil {
		return err
	}

	var enabled []domain.LoraEntry
	for _, l := range loras {
		if l.Enabled {
			enabled = append(enabled, l)
		}
	}
	if len(enabled) > maxLoraSlots {
		enabled = enabled[:maxLoraSlots]
	}

	existing := intField(inputs, "lora_count", 0)
	total := existing
	if len(enabled) > total {
		total = len(enabled)
	}
	if total > maxLoraSlots {
		total = maxLoraSlots
	}

	inputs["lora_count"] = len(enabled)
	for i := 1; i <= total; i++ {
		nameKey := fmt.Sprintf("lora_name_%d", i)
		weightKey := fmt.Sprintf("lora_wt_%d", i)
		if i <= len(enabled) {
			inputs[nameKey] = enabled[i-1].Name
			inputs[weightKey] = enabled[i-1].Weight
			continue
		}
		inputs[nameKey] = loraNoneSentinel
		inputs[weightKey] = 1.0
	}
	return nil
}

func patchSampler(graph domain.Graph, roles NodeRoles, mode domain.RunMode, overrides *domain.SamplerOverrides) error {
	if overrides == nil {
		return nil
	}
	inputs, err := NodeInputs(graph, roles.Sampler, "sampler")
	if err != nil {
		return err
	}
	if overrides.Steps != nil {
		inputs["steps"] = *overrides.Steps
	}
	if overrides.CFG != nil {
		inputs["cfg"] = *overrides.CFG
	}
	if name := overrides.EffectiveSamplerName(); name != "" {
		inputs["sampler_name"] = name
	}
	if overrides.Scheduler != "" {
		inputs["scheduler"] = overrides.Scheduler
	}
	if overrides.Seed != nil {
		inputs["seed"] = *overrides.Seed
	}
	// Denoise only makes sense against a reference latent.
	if mode == domain.ModeRefine && overrides.Denoise != nil {
		inputs["denoise"] = *overrides.Denoise
	}
	return nil
}

// patchControl neutralizes the control branch when it is disabled by
// forcing the stacker strength to zero, leaving the rest of the branch
// untouched.
func patchControl(graph domain.Graph, roles NodeRoles, control domain.ControlParams) error {
	stacker, err := NodeInputs(graph, roles.ControlStacker, "control stacker")
	if err != nil {
		return err
	}
	if !control.Enabled {
		stacker["strength"] = 0.0
		return nil
	}
	if control.Strength != nil {
		stacker["strength"] = *control.Strength
	}
	if control.Model != "" {
		loader, err := NodeInputs(graph, roles.ControlLoader, "control loader")
		if err != nil {
			return err
		}
		loader["control_net_name"] = control.Model
	}
	if control.PreprocessorOn && control.Preprocessor != "" {
		selector, err := NodeInputs(graph, roles.ControlPreprocessor, "preprocessor selector")
		if err != nil {
			return err
		}
		selector["preprocessor"] = control.Preprocessor
	}
	if control.Image != "" {
		image, err := NodeInputs(graph, roles.ControlImage, "control image")
		if err != nil {
			return err
		}
		image["image"] = control.Image
	}
	return nil
}
