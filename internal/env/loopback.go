package env

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/scenario"
)

const DefaultSlots = 20

// Loopback is an in-process stand-in for the simulator used for dry runs
// and tests. Move commands step one cell toward their target, every other
// command scores a point, and cut commands thin the trees of the cell.
type Loopback struct {
	slots int

	mu       sync.Mutex
	settings scenario.Settings
	roles    []domain.Role
	pos      []domain.Position
	cut      map[domain.Position]int
	score    int
	params   []float64
}

func NewLoopback(slots int) *Loopback {
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &Loopback{slots: slots}
}

func (l *Loopback) Reset(ctx context.Context, settings scenario.Settings) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	roster := settings.Roster()
	if len(roster)+1 > l.slots {
		return Frame{}, fmt.Errorf("level %s needs %d agent slots, have %d", settings.Level, len(roster), l.slots-1)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rng := rand.New(rand.NewPCG(uint64(settings.Seed), uint64(settings.GameType)+1)) // #nosec G404 -- deterministic layout
	l.settings = settings
	l.roles = roster
	l.pos = make([]domain.Position, len(roster))
	for i := range l.pos {
		l.pos[i] = domain.Position{X: rng.IntN(settings.MapSize), Y: rng.IntN(settings.MapSize)}
	}
	l.cut = make(map[domain.Position]int)
	l.score = 0
	l.params = gameParams(settings, rng)
	return l.frame(), nil
}

func gameParams(s scenario.Settings, rng *rand.Rand) []float64 {
	pick := func() float64 { return float64(rng.IntN(s.MapSize)) }
	switch s.GameType {
	case domain.GameCutTrees:
		if !s.Lines {
			out := []float64{0, float64(s.TreeCount)}
			for i := 0; i < s.TreeCount; i++ {
				out = append(out, pick(), pick())
			}
			return out
		}
		out := []float64{1, float64(s.TreeCount)}
		for i := 0; i < s.TreeCount; i++ {
			x, y := pick(), pick()
			out = append(out, x, y, x, y+float64(s.TreesPerLine-1))
		}
		return out
	default:
		out := []float64{pick(), pick(), pick(), pick()}
		for i := 0; i < s.CivilianClusters; i++ {
			out = append(out, pick(), pick())
		}
		return out
	}
}

func (l *Loopback) Step(ctx context.Context, joint [][3]int) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.roles == nil {
		return Frame{}, fmt.Errorf("step before reset")
	}

	for i := range l.roles {
		slot := i + 1
		if slot >= len(joint) {
			break
		}
		kind, x, y := joint[slot][0], joint[slot][1], joint[slot][2]
		here := l.pos[i]
		switch {
		case kind == 0:
			l.pos[i] = domain.Position{X: here.X + sign(x-here.X), Y: here.Y + sign(y-here.Y)}
		case kind == 1 && (l.roles[i] == domain.RoleFirefighter || l.roles[i] == domain.RoleBulldozer):
			if l.trees(here) > 0 {
				l.cut[here]++
				l.score++
			}
		default:
			l.score++
		}
	}
	return l.frame(), nil
}

func (l *Loopback) Close() error {
	return nil
}

func (l *Loopback) trees(p domain.Position) int {
	base := (p.X*31 + p.Y*17 + int(l.settings.Seed)) % 4
	if base < 0 {
		base = -base
	}
	if left := base - l.cut[p]; left > 0 {
		return left
	}
	return 0
}

func (l *Loopback) frame() Frame {
	vectors := make([][]float64, l.slots)
	game := []float64{0, float64(l.settings.GameType), float64(l.settings.MapSize), float64(l.score)}
	vectors[0] = append(game, l.params...)
	for slot := 1; slot < l.slots; slot++ {
		i := slot - 1
		if i >= len(l.roles) {
			vectors[slot] = []float64{5, -1, 0, 0, 0, 0, 0}
			continue
		}
		vectors[slot] = l.agentVector(l.roles[i], l.pos[i])
	}
	return Frame{Vectors: vectors}
}

func (l *Loopback) agentVector(role domain.Role, p domain.Position) []float64 {
	r := MapRange(role)
	half := r / 2
	v := make([]float64, 0, r*r+7)
	v = append(v, float64(role))
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			c := domain.Position{X: p.X + dx, Y: p.Y + dy}
			if c.X < 0 || c.Y < 0 || c.X >= l.settings.MapSize || c.Y >= l.settings.MapSize {
				v = append(v, 0)
				continue
			}
			v = append(v, float64(5+l.trees(c)))
		}
	}
	v = append(v, -1, float64(p.X), float64(p.Y), 0, 0, 0)
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
