package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/dialogkit/dialogkit/condition"
	"github.com/dialogkit/dialogkit/errors"
	"github.com/dialogkit/dialogkit/topic"
	"github.com/dialogkit/dialogkit/transition"
)

// BotDefinition is one bot's TOML definition: its state graph,
// transition rules, candidate intents and topics.
type BotDefinition struct {
	// Name is the bot type, referenced by sessions and rules.
	Name string `toml:"name"`

	// EntryState is where new sessions start.
	EntryState string `toml:"entry_state"`

	// States lists the valid states. Rules may only reference these.
	States []string `toml:"states"`

	// Intents are the candidate intent names offered to the intent
	// detection capability.
	Intents []string `toml:"intents"`

	Rules  []transition.Rule `toml:"rules"`
	Topics []topic.Topic     `toml:"topics"`
}

// Bots holds the validated bot definitions and the artifacts built
// from them.
type Bots struct {
	defs   map[string]BotDefinition
	rules  *transition.RuleSet
	topics []topic.Topic
}

// LoadBots reads every *.toml file in dir, validates the definitions
// against the condition registry, and builds the combined rule set.
func LoadBots(dir string, reg *condition.Registry) (*Bots, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.ConfigInvalid(fmt.Sprintf("read bots dir %s: %v", dir, err))
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	bots := &Bots{
		defs:  make(map[string]BotDefinition),
		rules: transition.NewRuleSet(),
	}
	for _, path := range paths {
		var def BotDefinition
		if _, err := toml.DecodeFile(path, &def); err != nil {
			return nil, errors.ConfigInvalid(fmt.Sprintf("parse %s: %v", path, err))
		}
		if err := bots.add(def); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("bot definition %s", path))
		}
	}

	if err := bots.rules.Validate(reg); err != nil {
		return nil, err
	}
	return bots, nil
}

func (b *Bots) add(def BotDefinition) error {
	if def.Name == "" {
		return errors.ConfigInvalid("bot name is required")
	}
	if _, dup := b.defs[def.Name]; dup {
		return errors.ConfigInvalid(fmt.Sprintf("duplicate bot %q", def.Name))
	}
	if def.EntryState == "" {
		return errors.ConfigInvalid(fmt.Sprintf("bot %q: entry_state is required", def.Name))
	}

	states := make(map[string]bool, len(def.States))
	for _, s := range def.States {
		states[s] = true
	}
	if len(states) > 0 && !states[def.EntryState] {
		return errors.ConfigInvalid(fmt.Sprintf("bot %q: entry state %q is not a declared state", def.Name, def.EntryState))
	}

	for _, rule := range def.Rules {
		if len(states) > 0 {
			if !states[rule.SourceState] {
				return errors.ConfigInvalid(fmt.Sprintf("bot %q: rule references unknown source state %q", def.Name, rule.SourceState))
			}
			if !states[rule.TargetState] {
				return errors.ConfigInvalid(fmt.Sprintf("bot %q: rule references unknown target state %q", def.Name, rule.TargetState))
			}
		}
		b.rules.Add(def.Name, rule)
	}

	for _, t := range def.Topics {
		if t.BotType == "" {
			t.BotType = def.Name
		}
		b.topics = append(b.topics, t)
	}

	b.defs[def.Name] = def
	return nil
}

// RuleSet returns the combined transition rules for every bot.
func (b *Bots) RuleSet() *transition.RuleSet { return b.rules }

// Topics returns every topic, scoped to its bot type.
func (b *Bots) Topics() []topic.Topic { return b.topics }

// Bot returns one definition by bot type.
func (b *Bots) Bot(botType string) (BotDefinition, bool) {
	def, ok := b.defs[botType]
	return def, ok
}

// EntryState returns a bot's entry state, or "" for an unknown bot.
func (b *Bots) EntryState(botType string) string {
	return b.defs[botType].EntryState
}

// Intents returns a bot's candidate intents.
func (b *Bots) Intents(botType string) []string {
	return b.defs[botType].Intents
}

// Names returns the defined bot types, sorted.
func (b *Bots) Names() []string {
	names := make([]string, 0, len(b.defs))
	for name := range b.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
