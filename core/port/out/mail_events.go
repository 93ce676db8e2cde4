package out

import "github.com/kcalvelli/axios-ai-mail-sub000/core/domain"

// =============================================================================
// Event Publisher Port
// =============================================================================

// EventPublisher fans engine events out to the control plane. Publishing
// never blocks the engine; slow consumers drop frames.
type EventPublisher interface {
	Publish(event *domain.Event)
}
