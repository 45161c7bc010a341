package workflow

import (
	"strings"

	"github.com/easel-labs/easel-go/internal/domain"
)

// ArtifactClasses partitions the template's image-emitting nodes by what
// feeds them. A save or preview node whose ancestry contains a
// preprocessor but no sampler emits control-signal debug images, not
// generation results.
type ArtifactClasses struct {
	PreprocessorOnlySaves    map[string]struct{}
	PreprocessorOnlyPreviews map[string]struct{}
}

func (c ArtifactClasses) preprocessorOnlySave(nodeID string) bool {
	_, ok := c.PreprocessorOnlySaves[nodeID]
	return ok
}

func (c ArtifactClasses) preprocessorOnlyPreview(nodeID string) bool {
	_, ok := c.PreprocessorOnlyPreviews[nodeID]
	return ok
}

// Classify walks the graph once and records which save and preview nodes
// are fed exclusively by the preprocessor branch.
func Classify(g domain.Graph) ArtifactClasses {
	classes := ArtifactClasses{
		PreprocessorOnlySaves:    make(map[string]struct{}),
		PreprocessorOnlyPreviews: make(map[string]struct{}),
	}
	for nodeID, node := range g {
		save := isSaveClass(node.ClassType)
		preview := isPreviewClass(node.ClassType)
		if !save && !preview {
			continue
		}
		hasSampler, hasPreprocessor := ancestry(g, nodeID)
		if hasSampler || !hasPreprocessor {
			continue
		}
		if save {
			classes.PreprocessorOnlySaves[nodeID] = struct{}{}
		} else {
			classes.PreprocessorOnlyPreviews[nodeID] = struct{}{}
		}
	}
	return classes
}

// ancestry reports whether any upstream node of start is a sampler or a
// preprocessor. Iterative with a visited set; graphs from the wire may
// contain reference cycles.
func ancestry(g domain.Graph, start string) (hasSampler, hasPreprocessor bool) {
	visited := map[string]struct{}{start: {}}
	stack := upstream(g, start, visited)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok := g[id]
		if !ok {
			continue
		}
		if isSamplerClass(node.ClassType) {
			hasSampler = true
		}
		if isPreprocessorClass(node.ClassType) {
			hasPreprocessor = true
		}
		if hasSampler && hasPreprocessor {
			return
		}
		stack = append(stack, upstream(g, id, visited)...)
	}
	return
}

func upstream(g domain.Graph, id string, visited map[string]struct{}) []string {
	node, ok := g[id]
	if !ok {
		return nil
	}
	var next []string
	for _, value := range node.Inputs {
		producer, ok := domain.EdgeRef(value)
		if !ok {
			continue
		}
		if _, seen := visited[producer]; seen {
			continue
		}
		visited[producer] = struct{}{}
		next = append(next, producer)
	}
	return next
}

func isSaveClass(classType string) bool {
	c := strings.ToLower(classType)
	return strings.Contains(c, "saveimage") ||
		(strings.Contains(c, "save") && strings.Contains(c, "image"))
}

func isPreviewClass(classType string) bool {
	c := strings.ToLower(classType)
	return strings.Contains(c, "previewimage") ||
		(strings.Contains(c, "preview") && strings.Contains(c, "image"))
}

func isSamplerClass(classType string) bool {
	return strings.Contains(strings.ToLower(classType), "sampler")
}

func isPreprocessorClass(classType string) bool {
	return strings.Contains(strings.ToLower(classType), "preprocessor")
}
