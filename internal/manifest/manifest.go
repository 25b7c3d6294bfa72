// Package manifest loads rtsync.toml (or rtsync.yaml) lab manifests.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Candidate file names, in lookup order within one directory.
var FileNames = []string{"rtsync.toml", "rtsync.yaml", "rtsync.yml"}

// Manifest is a decoded lab manifest.
type Manifest struct {
	Path string               `toml:"-" yaml:"-"`
	Run  RunConfig            `toml:"run" yaml:"run"`
	Labs map[string]LabConfig `toml:"labs" yaml:"labs"`
}

// RunConfig applies to a whole `rtsync run`.
type RunConfig struct {
	// Labs is the default selection when no lab is named on the command line.
	Labs       []string `toml:"labs" yaml:"labs,omitempty"`
	Parallel   int      `toml:"parallel" yaml:"parallel,omitempty"`
	Duration   Duration `toml:"duration" yaml:"duration,omitempty"`
	TickPeriod Duration `toml:"tick_period" yaml:"tick_period,omitempty"`
	ReportDir  string   `toml:"report_dir" yaml:"report_dir,omitempty"`
}

// LabConfig overrides one lab's parameters. Zero fields keep the lab default.
type LabConfig struct {
	Disabled  bool     `toml:"disabled" yaml:"disabled,omitempty"`
	Duration  Duration `toml:"duration" yaml:"duration,omitempty"`
	Period    Duration `toml:"period" yaml:"period,omitempty"`
	Capacity  int      `toml:"capacity" yaml:"capacity,omitempty"`
	Producers int      `toml:"producers" yaml:"producers,omitempty"`
	Consumers int      `toml:"consumers" yaml:"consumers,omitempty"`
	MaxCount  int      `toml:"max_count" yaml:"max_count,omitempty"`
}

// Duration is a time.Duration written as "250ms" in manifests.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string such as \"250ms\"", node.Line)
	}
	if err := d.UnmarshalText([]byte(node.Value)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// NormalizeName maps a lab name to its canonical key: trimmed, NFC and
// lower case.
func NormalizeName(name string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(name)))
}

// Find walks up from startDir to locate a manifest.
func Find(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true, nil
			} else if !errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load decodes the manifest at path, choosing the format by extension.
func Load(path string) (*Manifest, error) {
	var (
		m   Manifest
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = decodeTOML(path, &m)
	case ".yaml", ".yml":
		err = decodeYAML(path, &m)
	default:
		return nil, fmt.Errorf("%s: unsupported manifest format", path)
	}
	if err != nil {
		return nil, err
	}
	m.Path = path
	if err := m.normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

func decodeTOML(path string, m *Manifest) error {
	meta, err := toml.DecodeFile(path, m)
	if err != nil {
		return fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(path string, m *Manifest) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("%s: failed to parse YAML: %w", path, err)
	}
	return nil
}

func (m *Manifest) normalize() error {
	if m.Run.Parallel < 0 {
		return fmt.Errorf("[run].parallel must not be negative")
	}
	for i, name := range m.Run.Labs {
		m.Run.Labs[i] = NormalizeName(name)
	}
	if len(m.Labs) == 0 {
		return nil
	}
	labs := make(map[string]LabConfig, len(m.Labs))
	for name, cfg := range m.Labs {
		key := NormalizeName(name)
		if _, dup := labs[key]; dup {
			return fmt.Errorf("lab %q is configured twice", key)
		}
		if cfg.Capacity < 0 || cfg.Producers < 0 || cfg.Consumers < 0 || cfg.MaxCount < 0 {
			return fmt.Errorf("[labs.%s]: counts must not be negative", key)
		}
		labs[key] = cfg
	}
	m.Labs = labs
	return nil
}

// Lab returns the overrides for name, if any.
func (m *Manifest) Lab(name string) (LabConfig, bool) {
	if m == nil {
		return LabConfig{}, false
	}
	cfg, ok := m.Labs[NormalizeName(name)]
	return cfg, ok
}

// LabNames returns the configured lab names in sorted order.
func (m *Manifest) LabNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Labs))
	for name := range m.Labs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
