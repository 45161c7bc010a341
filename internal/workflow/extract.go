package workflow

import (
	"sort"
	"strings"

	"github.com/easel-labs/easel-go/internal/domain"
)

// historyOutputKeys are the section names under which history payloads
// have been observed to carry per-node results.
var historyOutputKeys = []string{"outputs", "output", "result"}

// ExtractOutputs walks a history payload and returns the run's image
// artifacts. Save and preview nodes fed only by the preprocessor branch
// are skipped unless the control branch was enabled for the run, in
// which case their previews are kept alongside the finals. When any
// "output"-typed artifact exists, non-final artifacts are dropped.
func ExtractOutputs(history domain.Metadata, classes ArtifactClasses, controlEnabled bool) []domain.OutputDescriptor {
	var found []domain.OutputDescriptor
	for _, key := range historyOutputKeys {
		section, ok := history[key].(map[string]any)
		if !ok {
			continue
		}
		nodeIDs := make([]string, 0, len(section))
		for nodeID := range section {
			nodeIDs = append(nodeIDs, nodeID)
		}
		sort.Strings(nodeIDs)
		for _, nodeID := range nodeIDs {
			if !controlEnabled &&
				(classes.preprocessorOnlySave(nodeID) || classes.preprocessorOnlyPreview(nodeID)) {
				continue
			}
			collectImages(section[nodeID], nodeID, &found)
		}
	}

	deduped := domain.DedupeOutputs(found)
	finals := make([]domain.OutputDescriptor, 0, len(deduped))
	for _, d := range deduped {
		if d.IsFinal() {
			finals = append(finals, d)
		}
	}
	if len(finals) == 0 {
		return deduped
	}
	if !controlEnabled {
		return finals
	}
	for _, d := range deduped {
		if !d.IsFinal() && classes.preprocessorOnlyPreview(d.NodeID) {
			finals = append(finals, d)
		}
	}
	return finals
}

// collectImages recurses through a node's result value and captures
// every object carrying a filename. Decoded JSON cannot cycle, so plain
// recursion is safe here.
func collectImages(value any, nodeID string, out *[]domain.OutputDescriptor) {
	switch v := value.(type) {
	case map[string]any:
		if name, ok := v["filename"].(string); ok && strings.TrimSpace(name) != "" {
			d := domain.OutputDescriptor{Filename: name, NodeID: nodeID}
			if sub, ok := v["subfolder"].(string); ok {
				d.Subfolder = sub
			}
			if typ, ok := v["type"].(string); ok {
				d.Type = typ
			}
			*out = append(*out, d)
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectImages(v[k], nodeID, out)
		}
	case []any:
		for _, item := range v {
			collectImages(item, nodeID, out)
		}
	}
}
