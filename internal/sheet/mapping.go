package sheet

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/merchant-enrich/internal/model"
)

var presetName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// preset is the on-disk form of a saved column mapping.
type preset struct {
	Name    string              `yaml:"name"`
	Mapping model.ColumnMapping `yaml:"mapping"`
}

func presetPath(dir, name string) (string, error) {
	if !presetName.MatchString(name) || strings.HasPrefix(name, ".") {
		return "", eris.Errorf("sheet: invalid mapping preset name %q", name)
	}
	return filepath.Join(dir, name+".yaml"), nil
}

// SaveMapping stores a named column mapping preset as YAML in dir.
func SaveMapping(dir, name string, m model.ColumnMapping) error {
	path, err := presetPath(dir, name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(m.Merchant) == "" {
		return eris.New("sheet: mapping preset needs a merchant column")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "sheet: create preset dir")
	}
	data, err := yaml.Marshal(preset{Name: name, Mapping: m})
	if err != nil {
		return eris.Wrap(err, "sheet: marshal mapping preset")
	}
	return eris.Wrap(os.WriteFile(path, data, 0o644), "sheet: write mapping preset")
}

// LoadMapping reads a named column mapping preset from dir.
func LoadMapping(dir, name string) (model.ColumnMapping, error) {
	path, err := presetPath(dir, name)
	if err != nil {
		return model.ColumnMapping{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ColumnMapping{}, eris.Wrapf(err, "sheet: read mapping preset %s", name)
	}
	var p preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return model.ColumnMapping{}, eris.Wrapf(err, "sheet: parse mapping preset %s", name)
	}
	return p.Mapping, nil
}

// ListMappings returns the preset names in dir, sorted. A missing dir has
// no presets.
func ListMappings(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sheet: list mapping presets")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names, nil
}
