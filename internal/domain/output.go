package domain

import "strings"

// OutputTypeFinal is the declared type of a genuine output artifact.
const OutputTypeFinal = "output"

// OutputDescriptor identifies one artifact discovered in a run's history.
type OutputDescriptor struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
	NodeID    string `json:"node_id"`
}

func (d OutputDescriptor) IsFinal() bool {
	if strings.EqualFold(strings.TrimSpace(d.Type), OutputTypeFinal) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(d.Subfolder), OutputTypeFinal)
}

// DedupeOutputs collapses descriptors sharing a filename to one, keeping
// the first "output"-typed descriptor per group when one exists. Order of
// first appearance is preserved.
func DedupeOutputs(descriptors []OutputDescriptor) []OutputDescriptor {
	byName := make(map[string]int, len(descriptors))
	out := make([]OutputDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		name := strings.TrimSpace(d.Filename)
		if name == "" {
			continue
		}
		idx, seen := byName[name]
		if !seen {
			byName[name] = len(out)
			out = append(out, d)
			continue
		}
		if !out[idx].IsFinal() && d.IsFinal() {
			out[idx] = d
		}
	}
	return out
}
