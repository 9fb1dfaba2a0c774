package provider

import (
	"time"

	"github.com/TimurManjosov/splitfeature/internal/split"
)

// EventType is a provider lifecycle signal.
type EventType string

const (
	EventReady                EventType = "PROVIDER_READY"
	EventError                EventType = "PROVIDER_ERROR"
	EventStale                EventType = "PROVIDER_STALE"
	EventConfigurationChanged EventType = "PROVIDER_CONFIGURATION_CHANGED"
)

// Event is emitted on the provider's event channel.
type Event struct {
	Type         EventType `json:"type"`
	ProviderName string    `json:"provider"`
	Message      string    `json:"message,omitempty"`
	Time         time.Time `json:"time"`
}

// eventBridge maps each client notification to the provider event it produces.
// Update notifications never change readiness state.
var eventBridge = []struct {
	source split.EventType
	target EventType
}{
	{split.EventReady, EventReady},
	{split.EventReadyFromCache, EventStale},
	{split.EventReadyTimedOut, EventError},
	{split.EventUpdate, EventConfigurationChanged},
}

// nextState returns the readiness state after ev, given the current state.
func nextState(cur State, ev EventType) State {
	switch ev {
	case EventReady:
		return StateReady
	case EventError:
		return StateError
	case EventStale:
		// a cache load arriving after the full ready must not downgrade
		if cur == StateReady {
			return cur
		}
		return StateStale
	default:
		return cur
	}
}

func eventMessage(ev EventType) string {
	switch ev {
	case EventReady:
		return "split provider initialized"
	case EventError:
		return "split provider couldn't initialize: SDK ready timed out"
	case EventStale:
		return "split provider ready from cache"
	case EventConfigurationChanged:
		return "split definitions updated"
	default:
		return ""
	}
}
