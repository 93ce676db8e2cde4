package tools

import (
	"sync"

	"github.com/kcalvelli/axios-ai-mail-sub000/core/domain"
)

// =============================================================================
// Action Registry
// =============================================================================

// ActionRegistry maps classification tags to remote tool bindings. The
// action agent scans it to decide which tagged messages trigger a tool call.
type ActionRegistry struct {
	mu      sync.RWMutex
	actions map[string]*domain.ActionDefinition
}

func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{
		actions: make(map[string]*domain.ActionDefinition),
	}
}

// Register binds a tag to an action. A second registration for the same tag
// replaces the first.
func (r *ActionRegistry) Register(action *domain.ActionDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action.Tag] = action
}

func (r *ActionRegistry) RegisterAll(actions ...*domain.ActionDefinition) {
	for _, action := range actions {
		r.Register(action)
	}
}

// Get returns the action bound to tag, or nil.
func (r *ActionRegistry) Get(tag string) *domain.ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[tag]
}

// Tags returns the registered trigger tags.
func (r *ActionRegistry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.actions))
	for tag := range r.actions {
		tags = append(tags, tag)
	}
	return tags
}

// DefaultActions returns the built-in tag bindings. The extraction prompts
// fix the model output to the fields the downstream tools accept.
func DefaultActions() []*domain.ActionDefinition {
	return []*domain.ActionDefinition{
		{
			Tag:    "add-contact",
			Server: "contacts",
			Tool:   "create_contact",
			ExtractionPrompt: `Extract the contact details of the person introduced in this email.
Respond with a JSON object with keys: "name", "email", "phone", "organization".
Use null for anything the email does not state.`,
			DefaultArgs: map[string]any{"source": "email"},
		},
		{
			Tag:    "add-event",
			Server: "calendar",
			Tool:   "create_event",
			ExtractionPrompt: `Extract the appointment proposed in this email.
Respond with a JSON object with keys: "title", "start" (ISO 8601), "end" (ISO 8601), "location", "description".
Use null for anything the email does not state.`,
			DefaultArgs: map[string]any{"source": "email"},
		},
	}
}
