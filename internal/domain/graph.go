package domain

import "encoding/json"

// Node is one entry of a job graph: a class tag plus an input map whose
// values are either literals or (producer node id, output slot) references.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is a job graph keyed by node id.
type Graph map[string]Node

// Clone returns a deep copy via a JSON round trip. Input values are
// arbitrary decoded JSON, so a structural copy is the only safe one.
func (g Graph) Clone() (Graph, error) {
	if g == nil {
		return nil, nil
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	var out Graph
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// EdgeRef reports whether an input value encodes a data-flow edge and
// returns the producer node id. Any array-shaped value whose first
// element is a string is treated as an edge; everything else is a literal.
func EdgeRef(value any) (string, bool) {
	arr, ok := value.([]any)
	if !ok || len(arr) == 0 {
		return "", false
	}
	id, ok := arr[0].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
