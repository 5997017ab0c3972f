package clock

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

// TimeControl is a named preset defining each side's base allotment.
type TimeControl struct {
	Name   string `yaml:"name"`
	BaseMs int64  `yaml:"base_ms"`
}

//go:embed timecontrols.yaml
var defaultCatalogRaw []byte

type catalogFile struct {
	TimeControls []TimeControl `yaml:"time_controls"`
}

var (
	catalogOnce sync.Once
	catalogMu   sync.RWMutex
	catalog     map[string]TimeControl
)

func loadDefaultCatalog() {
	var cf catalogFile
	if err := yaml.Unmarshal(defaultCatalogRaw, &cf); err != nil {
		// embedded file is part of the build; an unparseable one is a bug
		panic(fmt.Sprintf("clock: embedded catalog: %v", err))
	}
	m := make(map[string]TimeControl, len(cf.TimeControls))
	for _, tc := range cf.TimeControls {
		if tc.Name == "" || tc.BaseMs <= 0 {
			continue
		}
		m[strings.ToLower(tc.Name)] = tc
	}
	catalog = m
}

// LoadCatalogFile overlays time controls from an external YAML file on top of
// the embedded defaults. Unknown names are added, known names overridden.
func LoadCatalogFile(path string) error {
	catalogOnce.Do(loadDefaultCatalog)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read time control file: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return fmt.Errorf("parse time control file: %w", err)
	}
	catalogMu.Lock()
	defer catalogMu.Unlock()
	for _, tc := range cf.TimeControls {
		if tc.Name == "" || tc.BaseMs <= 0 {
			continue
		}
		catalog[strings.ToLower(tc.Name)] = tc
	}
	return nil
}

// LookupControl resolves a time control by name.
func LookupControl(name string) (TimeControl, error) {
	catalogOnce.Do(loadDefaultCatalog)
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	tc, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return TimeControl{}, fmt.Errorf("unknown time control %q", name)
	}
	return tc, nil
}

// ControlNames lists the configured presets, primarily for diagnostics.
func ControlNames() []string {
	catalogOnce.Do(loadDefaultCatalog)
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	return names
}
