package engine

import (
	_ "embed"
	"fmt"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/chess-arena/internal/engine/uci"
)

//go:embed bots.yaml
var embeddedRoster []byte

// Personality is one bot's engine settings and move-choice rule.
type Personality struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Rating        int    `yaml:"rating"`
	MultiPV       int    `yaml:"multipv"`
	Pick          []int  `yaml:"pick"`
	Depth         int    `yaml:"depth"`
	MoveTimeMs    int    `yaml:"movetimeMs"`
	LimitStrength bool   `yaml:"limitStrength"`
	Elo           int    `yaml:"elo"`
	// SkillLevel (0-20) is sent as "Skill Level" when positive.
	SkillLevel int `yaml:"skillLevel"`
}

func (p Personality) options() uci.Options {
	return uci.Options{MultiPV: p.MultiPV, LimitStrength: p.LimitStrength, Elo: p.Elo, SkillLevel: p.SkillLevel}
}

func (p Personality) limits() uci.Limits {
	return uci.Limits{Depth: p.Depth, MoveTimeMillis: p.MoveTimeMs}
}

func (p Personality) validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("bot without id")
	}
	if p.MultiPV <= 0 {
		return fmt.Errorf("bot %s: multipv must be > 0", p.ID)
	}
	if len(p.Pick) == 0 {
		return fmt.Errorf("bot %s: pick list empty", p.ID)
	}
	for _, rank := range p.Pick {
		if rank < 1 || rank > p.MultiPV {
			return fmt.Errorf("bot %s: pick rank %d outside 1..%d", p.ID, rank, p.MultiPV)
		}
	}
	if p.Depth <= 0 && p.MoveTimeMs <= 0 {
		return fmt.Errorf("bot %s: no search limits", p.ID)
	}
	if p.LimitStrength && p.Elo <= 0 {
		return fmt.Errorf("bot %s: elo required with limitStrength", p.ID)
	}
	if p.SkillLevel < 0 || p.SkillLevel > 20 {
		return fmt.Errorf("bot %s: skillLevel %d outside 0..20", p.ID, p.SkillLevel)
	}
	return nil
}

type Roster struct {
	byID       map[string]Personality
	order      []string
	defaultBot string
}

type rosterFile struct {
	Default string        `yaml:"default"`
	Bots    []Personality `yaml:"bots"`
}

// DefaultRoster parses the compiled-in roster.
func DefaultRoster() (*Roster, error) { return ParseRoster(embeddedRoster) }

func ParseRoster(raw []byte) (*Roster, error) {
	var f rosterFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse bot roster: %w", err)
	}
	r := &Roster{byID: make(map[string]Personality, len(f.Bots))}
	for _, p := range f.Bots {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate bot id %s", p.ID)
		}
		r.byID[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("bot roster is empty")
	}
	if err := r.SetDefault(f.Default); err != nil {
		return nil, err
	}
	return r, nil
}

// SetDefault changes the bot used when a request names none. An empty id
// selects the first bot of the roster.
func (r *Roster) SetDefault(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		r.defaultBot = r.order[0]
		return nil
	}
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("default bot %s not in roster", id)
	}
	r.defaultBot = id
	return nil
}

func (r *Roster) Get(id string) (Personality, bool) {
	p, ok := r.byID[strings.TrimSpace(id)]
	return p, ok
}

func (r *Roster) Default() Personality { return r.byID[r.defaultBot] }

func (r *Roster) All() []Personality {
	out := make([]Personality, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
