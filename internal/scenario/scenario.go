// Package scenario holds the level presets, validates them per game type
// and turns the environment's game data vector into a task description.
package scenario

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"wildfire_crew/internal/domain"
)

//go:embed presets.yaml
var builtinPresets []byte

const (
	defaultStepsPerDecision        = 10
	defaultVegetationDensityOffset = 20
)

// requiredKeys lists the task keys each game type must set.
var requiredKeys = map[domain.GameType][]string{
	domain.GameCutTrees:    {"map_size", "lines", "tree_count", "trees_per_line"},
	domain.GameScoutFire:   {"map_size", "fire_spread_frequency"},
	domain.GameTransport:   {"map_size"},
	domain.GameContainFire: {"map_size", "water", "fire_spread_frequency"},
	domain.GameRescue:      {"map_size", "civilian_count", "civilian_clusters", "civilian_move_frequency"},
	domain.GameFullGame:    {"map_size", "fire_spread_frequency", "civilian_count", "civilian_clusters", "civilian_move_frequency"},
}

// Settings is a validated level. Task keys not required by the game type
// are zero.
type Settings struct {
	Level    string          `json:"level"`
	GameType domain.GameType `json:"game_type"`
	MapSize  int             `json:"map_size"`
	Seed     int64           `json:"seed"`

	Lines                 bool `json:"lines"`
	TreeCount             int  `json:"tree_count"`
	TreesPerLine          int  `json:"trees_per_line"`
	FireSpreadFrequency   int  `json:"fire_spread_frequency"`
	Water                 bool `json:"water"`
	CivilianCount         int  `json:"civilian_count"`
	CivilianClusters      int  `json:"civilian_clusters"`
	CivilianMoveFrequency int  `json:"civilian_move_frequency"`
	Known                 bool `json:"known"`

	Firefighters int `json:"starting_firefighter_agents"`
	Bulldozers   int `json:"starting_bulldozer_agents"`
	Drones       int `json:"starting_drone_agents"`
	Helicopters  int `json:"starting_helicopter_agents"`

	StepsPerDecision        int `json:"steps_per_decision"`
	VegetationDensityOffset int `json:"vegetation_density_offset"`
}

// Roster returns the starting role of each agent slot, slot 1 first.
func (s Settings) Roster() []domain.Role {
	out := make([]domain.Role, 0, s.AgentCount())
	for _, g := range []struct {
		role  domain.Role
		count int
	}{
		{domain.RoleFirefighter, s.Firefighters},
		{domain.RoleBulldozer, s.Bulldozers},
		{domain.RoleDrone, s.Drones},
		{domain.RoleHelicopter, s.Helicopters},
	} {
		for i := 0; i < g.count; i++ {
			out = append(out, g.role)
		}
	}
	return out
}

func (s Settings) AgentCount() int {
	return s.Firefighters + s.Bulldozers + s.Drones + s.Helicopters
}

// Catalog is a set of raw presets keyed by level name.
type Catalog struct {
	raw map[string]map[string]any
}

// Builtin returns the embedded level presets.
func Builtin() (*Catalog, error) {
	return parseCatalog(builtinPresets)
}

// LoadFile reads presets from path and layers them over the builtin ones.
func LoadFile(path string) (*Catalog, error) {
	c, err := Builtin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	extra, err := parseCatalog(b)
	if err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for name, preset := range extra.raw {
		c.raw[name] = preset
	}
	return c, nil
}

func parseCatalog(b []byte) (*Catalog, error) {
	raw := make(map[string]map[string]any)
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	return &Catalog{raw: raw}, nil
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.raw))
	for name := range c.raw {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Settings validates the named level and applies defaults.
func (c *Catalog) Settings(level string, seed int64) (Settings, error) {
	preset, ok := c.raw[level]
	if !ok {
		return Settings{}, fmt.Errorf("unknown level %q", level)
	}
	s, err := Validate(preset)
	if err != nil {
		return Settings{}, fmt.Errorf("level %s: %w", level, err)
	}
	s.Level = level
	s.Seed = seed
	return s, nil
}

// Validate checks that preset carries every key its game type requires.
func Validate(preset map[string]any) (Settings, error) {
	rawType, ok := preset["game_type"]
	if !ok {
		return Settings{}, fmt.Errorf("preset must include game_type")
	}
	gt, ok := asInt(rawType)
	if !ok || !domain.GameType(gt).Valid() {
		return Settings{}, fmt.Errorf("invalid game type: %v", rawType)
	}
	gameType := domain.GameType(gt)
	required := make(map[string]bool)
	for _, key := range requiredKeys[gameType] {
		if _, ok := preset[key]; !ok {
			return Settings{}, fmt.Errorf("missing required key %q for game type %d", key, gt)
		}
		required[key] = true
	}

	num := func(key string, def int) int {
		v, ok := asInt(preset[key])
		if !ok {
			return def
		}
		return v
	}
	task := func(key string) int {
		if !required[key] {
			return 0
		}
		return num(key, 0)
	}
	flag := func(key string) bool {
		v, _ := preset[key].(bool)
		return v
	}

	s := Settings{
		GameType:                gameType,
		MapSize:                 task("map_size"),
		TreeCount:               task("tree_count"),
		TreesPerLine:            task("trees_per_line"),
		FireSpreadFrequency:     task("fire_spread_frequency"),
		CivilianCount:           task("civilian_count"),
		CivilianClusters:        task("civilian_clusters"),
		CivilianMoveFrequency:   task("civilian_move_frequency"),
		Lines:                   required["lines"] && flag("lines"),
		Water:                   required["water"] && flag("water"),
		Known:                   flag("known"),
		Firefighters:            num("starting_firefighter_agents", 0),
		Bulldozers:              num("starting_bulldozer_agents", 0),
		Drones:                  num("starting_drone_agents", 0),
		Helicopters:             num("starting_helicopter_agents", 0),
		StepsPerDecision:        num("steps_per_decision", defaultStepsPerDecision),
		VegetationDensityOffset: num("vegetation_density_offset", defaultVegetationDensityOffset),
	}
	if s.MapSize <= 0 {
		return Settings{}, fmt.Errorf("map_size must be positive, got %d", s.MapSize)
	}
	return s, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
