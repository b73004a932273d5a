package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// AgentType distinguishes the kinds of actors that can touch a submission.
type AgentType string

const (
	AgentUser   AgentType = "user"
	AgentSystem AgentType = "system"
	AgentClient AgentType = "client"
)

// Agent identifies who performed an operation. Agents are immutable values;
// identity is derived from the type and native ID only, so the same logical
// agent always hashes to the same identifier across processes.
type Agent struct {
	Type     AgentType `json:"agent_type" enum:"user,system,client"`
	NativeID string    `json:"native_id"`
	Name     string    `json:"name,omitempty"`
	Email    string    `json:"email,omitempty"`
}

// NewAgent builds an agent of the given type, rejecting unknown types.
func NewAgent(agentType AgentType, nativeID string) (Agent, error) {
	switch agentType {
	case AgentUser, AgentSystem, AgentClient:
	default:
		return Agent{}, fmt.Errorf("unknown agent type %q", agentType)
	}
	if nativeID == "" {
		return Agent{}, fmt.Errorf("agent native_id required")
	}
	return Agent{Type: agentType, NativeID: nativeID}, nil
}

// SystemAgent returns the platform's own agent, used as the creator of
// rule-derived events when no other creator is configured.
func SystemAgent(nativeID string) Agent {
	if nativeID == "" {
		nativeID = "papertrail"
	}
	return Agent{Type: AgentSystem, NativeID: nativeID}
}

// Identifier returns the stable identifier for this agent, a SHA1-derived
// UUID of "{type}:{native_id}".
func (a Agent) Identifier() string {
	seed := fmt.Sprintf("%s:%s", a.Type, a.NativeID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// Equals reports whether two agents share an identity. Display fields do not
// participate.
func (a Agent) Equals(other Agent) bool {
	return a.Identifier() == other.Identifier()
}

// IsZero reports whether the agent carries no identity at all.
func (a Agent) IsZero() bool {
	return a.Type == "" && a.NativeID == ""
}

// Validate checks that the agent is well formed for use on an event.
func (a Agent) Validate() error {
	switch a.Type {
	case AgentUser, AgentSystem, AgentClient:
	default:
		return fmt.Errorf("unknown agent type %q", a.Type)
	}
	if a.NativeID == "" {
		return fmt.Errorf("agent native_id required")
	}
	return nil
}
