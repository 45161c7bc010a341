package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/easel-labs/easel-go/internal/domain"
)

var (
	ErrTemplateInvalid     = errors.New("template invalid")
	ErrTemplateNodeMissing = errors.New("template node missing")
)

// NodeMissingError names the role whose node id was absent so API
// callers see which part of the template is broken, not just an id.
type NodeMissingError struct {
	Role   string
	NodeID string
}

func (e *NodeMissingError) Error() string {
	return fmt.Sprintf("%s node %q missing from template", e.Role, e.NodeID)
}

func (e *NodeMissingError) Unwrap() error { return ErrTemplateNodeMissing }

// LoadTemplate reads a node graph from disk. The file must hold a JSON
// object keyed by node id.
func LoadTemplate(path string) (domain.Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateInvalid, err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrTemplateInvalid)
	}
	var graph domain.Graph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateInvalid, err)
	}
	if len(graph) == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrTemplateInvalid)
	}
	return graph, nil
}

// NodeInputs resolves the mutable input map of a role's node.
func NodeInputs(g domain.Graph, nodeID, role string) (map[string]any, error) {
	node, ok := g[nodeID]
	if !ok || node.Inputs == nil {
		return nil, &NodeMissingError{Role: role, NodeID: nodeID}
	}
	return node.Inputs, nil
}
