package dialogue

import (
	"context"

	"github.com/agenthands/tsgcopilot/internal/core/transcript"
)

type Role string

const (
	RoleHumanProxy  Role = "human-proxy"
	RoleRouter      Role = "router"
	RoleRetriever   Role = "retriever"
	RolePlanner     Role = "planner"
	RoleChatManager Role = "chat-manager"
)

type Profile struct {
	Name    string
	Role    Role
	Display string
}

// Turn is what a participant receives when asked to speak.
type Turn struct {
	Session *Session
	// Inbound is the last transcript message; zero when the transcript is
	// empty.
	Inbound    transcript.Message
	HasInbound bool
}

// Agent is a dialogue participant. A nil payload with a nil error means the
// participant has nothing to say now and the run should pause on it.
type Agent interface {
	Profile() Profile
	Reply(ctx context.Context, turn Turn) (transcript.Payload, error)
}
