package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/park285/cheese-lichess-bot/internal/engine/uci"
)

const DefaultPresetName = "default"

// Preset bundles UCI options, search limits and how many of the top lines
// the bot is willing to play.
type Preset struct {
	Name             string    `yaml:"name"`
	SkillLevel       int       `yaml:"skill_level"`
	Threads          int       `yaml:"threads"`
	HashMB           int       `yaml:"hash_mb"`
	Elo              int       `yaml:"elo"`
	MoveTimeMillis   int       `yaml:"move_time_ms"`
	NodeCap          int       `yaml:"node_cap"`
	DepthCap         int       `yaml:"depth"`
	MultiPV          int       `yaml:"multipv"`
	PrimaryChoices   int       `yaml:"primary_choices"`
	CandidateWeights []float64 `yaml:"candidate_weights"`
}

func (p Preset) options() uci.Options {
	return uci.Options{
		Threads:    p.Threads,
		SkillLevel: p.SkillLevel,
		HashMB:     p.HashMB,
		MultiPV:    p.MultiPV,
		Elo:        p.Elo,
	}
}

func (p Preset) limits() uci.Limits {
	return uci.Limits{
		Depth:          p.DepthCap,
		MoveTimeMillis: p.MoveTimeMillis,
		NodeCap:        p.NodeCap,
	}
}

var defaultThreads = max(1, runtime.NumCPU()/4)

var (
	presetMu sync.RWMutex
	presets  = builtinPresets()
)

func builtinPresets() map[string]Preset {
	level := func(name string, skill, hash, elo, moveTime, depth, multipv int, weights ...float64) Preset {
		return Preset{
			Name:             name,
			SkillLevel:       skill,
			Threads:          defaultThreads,
			HashMB:           hash,
			Elo:              elo,
			MoveTimeMillis:   moveTime,
			DepthCap:         depth,
			MultiPV:          multipv,
			PrimaryChoices:   len(weights),
			CandidateWeights: weights,
		}
	}
	return map[string]Preset{
		// One full-strength line at depth 5.
		DefaultPresetName: level(DefaultPresetName, 20, 32, 0, 0, 5, 1, 1.0),

		"level1": level("level1", 0, 16, 600, 20, 5, 5, 0.5, 0.3, 0.2),
		"level2": level("level2", 0, 16, 700, 60, 6, 5, 0.6, 0.3, 0.1),
		"level3": level("level3", 1, 24, 800, 80, 8, 5, 0.7, 0.2, 0.1),
		"level4": level("level4", 3, 32, 1000, 140, 10, 5, 0.65, 0.25, 0.1),
		"level5": level("level5", 7, 48, 1200, 200, 12, 5, 0.7, 0.2, 0.1),
		"level6": level("level6", 11, 64, 1400, 300, 16, 2, 0.8, 0.2),
		"level7": level("level7", 16, 96, 1650, 500, 20, 2, 0.85, 0.15),
		"level8": level("level8", 20, 128, 1900, 1000, 30, 1, 1.0),
	}
}

// GetPreset resolves a preset by name or alias. Empty means the default.
func GetPreset(name string) (Preset, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		name = DefaultPresetName
	case "beginner":
		name = "level1"
	case "intermediate":
		name = "level5"
	case "advanced":
		name = "level7"
	case "master":
		name = "level8"
	}
	presetMu.RLock()
	p, ok := presets[name]
	presetMu.RUnlock()
	if !ok {
		return Preset{}, fmt.Errorf("unknown engine preset: %s", name)
	}
	p.CandidateWeights = append([]float64(nil), p.CandidateWeights...)
	return p, nil
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresetsYAML merges presets from r into the registry. Every preset is
// validated before any of them is installed.
func LoadPresetsYAML(r io.Reader) (int, error) {
	var file presetFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("decode presets: %w", err)
	}

	loaded := make(map[string]Preset, len(file.Presets))
	for i, p := range file.Presets {
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		if p.Name == "" {
			return 0, fmt.Errorf("preset #%d: name required", i+1)
		}
		if p.Threads <= 0 {
			p.Threads = defaultThreads
		}
		if p.PrimaryChoices == 0 {
			p.PrimaryChoices = len(p.CandidateWeights)
		}
		if err := ValidatePreset(p); err != nil {
			return 0, fmt.Errorf("preset %s: %w", p.Name, err)
		}
		loaded[p.Name] = p
	}

	presetMu.Lock()
	for name, p := range loaded {
		presets[name] = p
	}
	presetMu.Unlock()
	return len(loaded), nil
}

func LoadPresetsFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open presets file %q: %w", path, err)
	}
	defer f.Close()
	return LoadPresetsYAML(f)
}

func ValidatePreset(p Preset) error {
	switch {
	case p.SkillLevel < 0 || p.SkillLevel > 20:
		return fmt.Errorf("skill level %d out of range 0-20", p.SkillLevel)
	case p.Threads <= 0:
		return fmt.Errorf("threads must be > 0: %d", p.Threads)
	case p.HashMB <= 0:
		return fmt.Errorf("hash size must be > 0: %d", p.HashMB)
	case p.Elo < 0:
		return fmt.Errorf("elo must be >= 0: %d", p.Elo)
	case p.MultiPV <= 0:
		return fmt.Errorf("multipv must be > 0: %d", p.MultiPV)
	case p.PrimaryChoices <= 0:
		return fmt.Errorf("primary choices must be > 0: %d", p.PrimaryChoices)
	case p.PrimaryChoices > p.MultiPV:
		return fmt.Errorf("primary choices (%d) must not exceed multipv (%d)", p.PrimaryChoices, p.MultiPV)
	case len(p.CandidateWeights) < p.PrimaryChoices:
		return fmt.Errorf("candidate weights (%d) must cover primary choices (%d)", len(p.CandidateWeights), p.PrimaryChoices)
	case p.MoveTimeMillis < 0 || p.NodeCap < 0 || p.DepthCap < 0:
		return fmt.Errorf("search limits must be >= 0")
	case p.MoveTimeMillis == 0 && p.NodeCap == 0 && p.DepthCap == 0:
		return fmt.Errorf("preset %s does not define search limits", p.Name)
	}

	sum := 0.0
	for i := 0; i < p.PrimaryChoices; i++ {
		w := p.CandidateWeights[i]
		if w < 0 {
			return fmt.Errorf("candidate weight at index %d is negative: %f", i, w)
		}
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("candidate weights sum to zero")
	}
	return nil
}
