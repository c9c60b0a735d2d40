package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Role int

const (
	RoleFirefighter Role = 0
	RoleBulldozer   Role = 1
	RoleDrone       Role = 2
	RoleHelicopter  Role = 3
)

var Roles = []Role{RoleFirefighter, RoleBulldozer, RoleDrone, RoleHelicopter}

func (r Role) String() string {
	switch r {
	case RoleFirefighter:
		return "firefighter"
	case RoleBulldozer:
		return "bulldozer"
	case RoleDrone:
		return "drone"
	case RoleHelicopter:
		return "helicopter"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Title is the capitalised role name used in prompts ("Firefighter").
func (r Role) Title() string {
	s := r.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (r Role) Valid() bool {
	return r >= RoleFirefighter && r <= RoleHelicopter
}

// ParseRole maps the observation type code to a role. Codes >= 4 mean the
// slot is destroyed or empty.
func ParseRole(code int) (Role, bool) {
	r := Role(code)
	return r, r.Valid()
}

// AgentID is the environment slot of an agent. Slot 0 carries game data, so
// live agents start at 1.
type AgentID int

// Tag is the label agents are addressed by in oracle prompts.
func (id AgentID) Tag() string {
	return fmt.Sprintf("AGENT_%d", int(id))
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d)", p.X, p.Y)
}

type OptionKind int

// Option is a role scoped intent awaiting decomposition. Kind indexes the
// role's option vocabulary; Param1/Param2 are coordinates or counts.
type Option struct {
	Kind        OptionKind `json:"kind"`
	Param1      int        `json:"param_1"`
	Param2      int        `json:"param_2"`
	Description string     `json:"description"`
	Condition   string     `json:"condition,omitempty"`
}

// IdleOption is the zero parameter option every role understands.
func IdleOption(description string) Option {
	return Option{Kind: 0, Description: description}
}

type ActionKind int

// Action is one primitive tick. Done is true only on the last action of an
// option's decomposition.
type Action struct {
	Done        bool       `json:"done"`
	Kind        ActionKind `json:"kind"`
	X           int        `json:"x"`
	Y           int        `json:"y"`
	Explanation string     `json:"explanation,omitempty"`
}

// Command is the triple submitted to the environment for one agent slot.
type Command struct {
	Kind int `json:"kind"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

func (c Command) Triple() [3]int {
	return [3]int{c.Kind, c.X, c.Y}
}

// IdleCommand fills slots with no live agent.
var IdleCommand = Command{}

// Observation is one agent slot as decoded from the environment.
type Observation struct {
	Slot        AgentID    `json:"slot"`
	TypeCode    int        `json:"type_code"`
	Position    Position   `json:"position"`
	CurrentCell string     `json:"current_cell"`
	Grid        string     `json:"grid"`
	MapRange    int        `json:"map_range"`
	Extra       [3]float64 `json:"extra"`
}

func (o Observation) Destroyed() bool {
	return o.TypeCode >= 4
}

// GameData is decoded from observation slot 0.
type GameData struct {
	GameType   GameType       `json:"game_type"`
	MapSize    int            `json:"map_size"`
	Score      int            `json:"score"`
	Task       string         `json:"task"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type GameType int

const (
	GameCutTrees       GameType = 0
	GameScoutFire      GameType = 1
	GameTransport      GameType = 2
	GameContainFire    GameType = 3
	GameRescue         GameType = 4
	GameFullGame       GameType = 5
	gameTypeUpperBound GameType = 6
)

func (g GameType) Valid() bool {
	return g >= GameCutTrees && g < gameTypeUpperBound
}

func (g GameType) String() string {
	switch g {
	case GameCutTrees:
		return "cut_trees"
	case GameScoutFire:
		return "scout_fire"
	case GameTransport:
		return "transport_firefighters"
	case GameContainFire:
		return "contain_fire"
	case GameRescue:
		return "rescue_civilians"
	case GameFullGame:
		return "full_game"
	default:
		return fmt.Sprintf("game(%d)", int(g))
	}
}

type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        AgentID   `json:"to"`
	Content   string    `json:"content"`
	Timestep  int       `json:"timestep"`
	CreatedAt time.Time `json:"created_at"`
}

// Usage counts oracle traffic.
type Usage struct {
	Calls        int64 `json:"api_calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		Calls:        u.Calls + o.Calls,
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
	}
}

// TelemetryRow is written once per timestep.
type TelemetryRow struct {
	EpisodeID    string    `json:"episode_id"`
	Timestep     int       `json:"timestep"`
	Score        int       `json:"score"`
	APICalls     int64     `json:"api_calls"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

type EpisodeStatus string

const (
	EpisodeStatusRunning   EpisodeStatus = "running"
	EpisodeStatusDone      EpisodeStatus = "done"
	EpisodeStatusFailed    EpisodeStatus = "failed"
	EpisodeStatusCanceled  EpisodeStatus = "canceled"
	EpisodeStatusExhausted EpisodeStatus = "exhausted"
)

type Episode struct {
	ID        string        `json:"id"`
	Level     string        `json:"level"`
	Mode      string        `json:"mode"`
	Seed      int64         `json:"seed"`
	Status    EpisodeStatus `json:"status"`
	Steps     int           `json:"steps"`
	Score     int           `json:"score"`
	LastError string        `json:"last_error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// DecisionLog records consensus outcomes and recovered failures.
type DecisionLog struct {
	ID        int64           `json:"id"`
	EpisodeID string          `json:"episode_id"`
	Timestep  int             `json:"timestep"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// StepRecord is one agent's entry in the trailing step history.
type StepRecord struct {
	State  Position `json:"state"`
	Action string   `json:"action"`
}
