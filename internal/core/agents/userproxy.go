package agents

import (
	"context"

	"github.com/agenthands/tsgcopilot/internal/core/dialogue"
	"github.com/agenthands/tsgcopilot/internal/core/transcript"
)

// UserProxy speaks the query the user submitted for this request, once.
// Without a pending query it yields, which ends the request cycle.
type UserProxy struct {
	profile dialogue.Profile
}

func NewUserProxy(p dialogue.Profile) *UserProxy {
	return &UserProxy{profile: p}
}

func (u *UserProxy) Profile() dialogue.Profile { return u.profile }

func (u *UserProxy) Reply(ctx context.Context, turn dialogue.Turn) (transcript.Payload, error) {
	q, ok := turn.Session.TakePending()
	if !ok {
		return nil, nil
	}
	return transcript.Text(q), nil
}
