// Package specs loads extraction specs: embedded defaults first, then any
// YAML files from an override directory, keyed by spec name.
package specs

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

//go:embed defaults/*.yaml
var defaults embed.FS

type Catalog struct {
	specs map[string]domain.ExtractionSpec
}

// Load builds a catalog from the embedded defaults and, when dir is not
// empty, the *.yaml and *.yml files in it. A file in dir replaces a default
// with the same name.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{specs: map[string]domain.ExtractionSpec{}}
	if err := c.addFS(defaults, "defaults", "embedded"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) == "" {
		return c, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, domain.WrapError(domain.ErrConfig, "open spec dir", err)
	}
	if err := c.addFS(os.DirFS(dir), ".", dir); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds a catalog from already decoded specs.
func New(list ...domain.ExtractionSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]domain.ExtractionSpec, len(list))}
	for _, spec := range list {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		c.specs[spec.Name] = spec
	}
	return c, nil
}

func (c *Catalog) addFS(fsys fs.FS, root, source string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return domain.WrapError(domain.ErrConfig, "list specs", err)
	}
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, entry.Name())))
		if err != nil {
			return domain.WrapError(domain.ErrConfig, "read spec", err)
		}
		spec, err := Parse(data)
		if err != nil {
			return fmt.Errorf("spec file %s/%s: %w", source, entry.Name(), err)
		}
		if _, replaced := c.specs[spec.Name]; replaced {
			slog.Info("extraction_spec_overridden", "spec", spec.Name, "source", source)
		}
		c.specs[spec.Name] = spec
	}
	return nil
}

// Parse decodes and validates one spec document.
func Parse(data []byte) (domain.ExtractionSpec, error) {
	var spec domain.ExtractionSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return domain.ExtractionSpec{}, domain.WrapError(domain.ErrConfig, "decode spec", err)
	}
	for i := range spec.QueryGroups {
		if spec.QueryGroups[i].Name == "" {
			spec.QueryGroups[i].Name = fmt.Sprintf("group_%d", i)
		}
	}
	if err := spec.Validate(); err != nil {
		return domain.ExtractionSpec{}, domain.WrapError(domain.ErrConfig, "validate spec", err)
	}
	return spec, nil
}

func (c *Catalog) Get(name string) (domain.ExtractionSpec, bool) {
	spec, ok := c.specs[name]
	return spec, ok
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.specs))
	for name := range c.specs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
