// Package skill defines behavior packs: instruction text plus the tool
// namespaces a skill is permitted to use. Skills come from built-in
// defaults and optional YAML files, and stay bound to a thread for the
// duration of a session.
package skill

import (
	"strings"
	"sync"

	"lifelog/internal/types"
)

// Skill is one named behavior pack.
type Skill struct {
	Name         string   `yaml:"name"`
	Command      string   `yaml:"command"`      // explicit command token, e.g. "/journal"
	Instructions string   `yaml:"instructions"` // skill prompt text
	Namespaces   []string `yaml:"namespaces"`   // permitted tool-name prefixes, e.g. "journal."
	LoggingSkill bool     `yaml:"logging_skill"` // participates in date detection and skeleton builds
}

// AllowsTool reports whether a tool name falls inside the skill's
// permitted namespaces. A skill with no namespaces allows nothing
// beyond the engine's internal tools.
func (s Skill) AllowsTool(name string) bool {
	for _, ns := range s.Namespaces {
		if strings.HasPrefix(name, ns) {
			return true
		}
	}
	return false
}

// FilterTools keeps only the definitions this skill may use.
func (s Skill) FilterTools(defs []types.ToolDefinition) []types.ToolDefinition {
	out := make([]types.ToolDefinition, 0, len(defs))
	for _, def := range defs {
		if s.AllowsTool(def.Name) {
			out = append(out, def)
		}
	}
	return out
}

// ChatSkillName is the ungrounded fallback skill.
const ChatSkillName = "chat"

// DefaultSkillName is the default domain skill for journal-style input.
const DefaultSkillName = "journal"

// Registry resolves skills by name or command token. It is safe for
// concurrent use; the watcher replaces entries in place on reload.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Skill
	byCmd  map[string]string // command token -> skill name
}

// NewRegistry returns a registry seeded with the built-in skills.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]Skill),
		byCmd:  make(map[string]string),
	}
	for _, s := range builtins() {
		r.put(s)
	}
	return r
}

func (r *Registry) put(s Skill) {
	r.byName[s.Name] = s
	if s.Command != "" {
		r.byCmd[s.Command] = s.Name
	}
}

// Register adds or replaces a skill.
func (r *Registry) Register(s Skill) {
	r.mu.Lock()
	r.put(s)
	r.mu.Unlock()
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// ResolveCommand maps an explicit command token ("/journal") to a
// skill.
func (r *Registry) ResolveCommand(token string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byCmd[token]
	if !ok {
		return Skill{}, false
	}
	s, ok := r.byName[name]
	return s, ok
}

// Names lists registered skill names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

func builtins() []Skill {
	return []Skill{
		{
			Name:    "journal",
			Command: "/journal",
			Instructions: "You are a life-journal assistant. Log the user's day faithfully: " +
				"activities, meals, mood, and notable events. Use the journal tools to " +
				"create and update entries for the target date. Confirm what you logged.",
			Namespaces:   []string{"journal."},
			LoggingSkill: true,
		},
		{
			Name:    "health",
			Command: "/health",
			Instructions: "You are a health-tracking assistant. Record and query sleep, " +
				"weight, symptoms, and vitals through the health tools. Be precise with " +
				"units and dates.",
			Namespaces:   []string{"health.", "journal."},
			LoggingSkill: true,
		},
		{
			Name:    "workout",
			Command: "/workout",
			Instructions: "You are a workout-logging assistant. Record exercises, sets, " +
				"distances, and durations through the workout tools. Ask for missing " +
				"specifics only when they matter.",
			Namespaces:   []string{"workout.", "journal."},
			LoggingSkill: true,
		},
		{
			Name:    ChatSkillName,
			Command: "/chat",
			Instructions: "You are a helpful personal assistant. Answer directly from " +
				"conversation context without consulting tools.",
		},
	}
}
