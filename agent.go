package steward

import "fmt"

// AgentSpec is the registration-time description of one domain agent. Specs
// are immutable after startup and shared across turns without locking; the
// per-turn working message list lives in the loop, never on the spec.
type AgentSpec struct {
	// Name identifies the agent in routing decisions and state fields.
	Name string
	// Description is the one-line summary shown to the routing model.
	Description string
	// Prompt is the agent's static system prompt.
	Prompt string
	// Keywords are lowercase tokens/phrases scored by the keyword router.
	Keywords []string
	// Temperature overrides the agent completion temperature when non-nil.
	Temperature *float64
}

// AgentSet holds the registered agents in registration order. The first
// registered agent is the default routing target unless overridden.
type AgentSet struct {
	specs  []AgentSpec
	byName map[string]AgentSpec
}

// NewAgentSet creates an empty set.
func NewAgentSet() *AgentSet {
	return &AgentSet{byName: make(map[string]AgentSpec)}
}

// Register adds an agent at startup. Names must be unique.
func (s *AgentSet) Register(spec AgentSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("register agent: empty name")
	}
	if _, dup := s.byName[spec.Name]; dup {
		return fmt.Errorf("register agent %q: already registered", spec.Name)
	}
	s.specs = append(s.specs, spec)
	s.byName[spec.Name] = spec
	return nil
}

// Get returns the spec for a name.
func (s *AgentSet) Get(name string) (AgentSpec, bool) {
	spec, ok := s.byName[name]
	return spec, ok
}

// Has reports whether the name is registered.
func (s *AgentSet) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Names returns the registered names in registration order.
func (s *AgentSet) Names() []string {
	names := make([]string, len(s.specs))
	for i, spec := range s.specs {
		names[i] = spec.Name
	}
	return names
}

// All returns the specs in registration order.
func (s *AgentSet) All() []AgentSpec {
	return s.specs
}

// First returns the first registered spec; it is the conventional default
// routing target.
func (s *AgentSet) First() (AgentSpec, bool) {
	if len(s.specs) == 0 {
		return AgentSpec{}, false
	}
	return s.specs[0], true
}
