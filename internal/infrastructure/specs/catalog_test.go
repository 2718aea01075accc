package specs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func TestLoadEmbeddedTenderParse(t *testing.T) {
	catalog, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	spec, ok := catalog.Get("tender_parse")
	if !ok {
		t.Fatalf("expected embedded tender_parse, got %v", catalog.Names())
	}
	if spec.QueryGroups[0].Name != "base" || spec.QueryGroups[1].Name != "scoring" {
		t.Fatalf("unexpected group order %+v", spec.QueryGroups)
	}
	if spec.StageName() != "tender_parse" {
		t.Fatalf("unexpected stage %q", spec.StageName())
	}
	kinds := map[string]domain.CategoryKind{}
	for _, c := range spec.Required {
		kinds[c.Name] = c.Kind
	}
	if kinds["base"] != domain.CategoryObject || kinds["scoring"] != domain.CategoryArray {
		t.Fatalf("unexpected schema %v", kinds)
	}
}

func TestLoadDirectoryOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	override := `
name: tender_parse
version: "99"
query_groups:
  - query: price
    top_k: 3
prompt_template: "{{.Evidence}}"
required:
  - name: base
    kind: object
`
	extra := `
name: bid_compare
version: "1"
query_groups:
  - name: offers
    query: offered price
    top_k: 5
prompt_template: "compare {{.Keys}}"
`
	if err := os.WriteFile(filepath.Join(dir, "tender.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "compare.yml"), []byte(extra), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	catalog, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	names := catalog.Names()
	if len(names) != 2 || names[0] != "bid_compare" || names[1] != "tender_parse" {
		t.Fatalf("unexpected names %v", names)
	}
	spec, _ := catalog.Get("tender_parse")
	if spec.Version != "99" {
		t.Fatalf("expected override version 99, got %s", spec.Version)
	}
	if spec.QueryGroups[0].Name != "group_0" {
		t.Fatalf("expected generated group name, got %q", spec.QueryGroups[0].Name)
	}
}

func TestLoadRejectsInvalidSpec(t *testing.T) {
	dir := t.TempDir()
	bad := "name: broken\nquery_groups: []\nprompt_template: x\n"
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(dir)
	if !domain.IsKind(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	if !domain.IsKind(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
