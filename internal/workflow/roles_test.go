package workflow

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadNodeRoles(t *testing.T) {
	doc := []byte(`
primary_loader: "101"
refine_loader: "102"
lora_stack: "103"
sampler: "104"
init_image: "105"
control_loader: "106"
control_preprocessor: "107"
control_stacker: "108"
control_image: "109"
`)
	path := filepath.Join(t.TempDir(), "roles.yaml")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		t.Fatalf("write roles: %v", err)
	}
	roles, err := LoadNodeRoles(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roles.PrimaryLoader != "101" || roles.ControlImage != "109" {
		t.Fatalf("unexpected roles: %+v", roles)
	}
}

func TestLoadNodeRolesIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	if err := os.WriteFile(path, []byte(`primary_loader: "101"`), 0o644); err != nil {
		t.Fatalf("write roles: %v", err)
	}
	if _, err := LoadNodeRoles(path); err == nil {
		t.Fatalf("expected error for incomplete roles")
	}
}

func TestDefaultNodeRolesValid(t *testing.T) {
	if err := DefaultNodeRoles().Validate(); err != nil {
		t.Fatalf("default roles invalid: %v", err)
	}
}
