package rpc

import (
	"context"
	"time"

	"github.com/looplab/fsm"
)

// Session states.
const (
	StateUnauthenticated = "unauthenticated"
	StateAuthenticated   = "authenticated"
	StateFailed          = "failed"
)

// Session events.
const (
	EventLogin  = "login"
	EventExpire = "expire"
	EventFail   = "fail"
)

// Session holds the tokens of an authenticated vendor session.
type Session struct {
	Token     string
	CSRFToken string
	CreatedAt time.Time
}

// sessionMachine tracks the lifecycle of one client's session. The active
// Session is only available in StateAuthenticated.
type sessionMachine struct {
	*fsm.FSM
	current *Session
}

func newSessionMachine() *sessionMachine {
	m := &sessionMachine{}

	events := fsm.Events{
		{Name: EventLogin, Src: []string{StateUnauthenticated}, Dst: StateAuthenticated},
		{Name: EventExpire, Src: []string{StateAuthenticated}, Dst: StateUnauthenticated},
		{Name: EventFail, Src: []string{StateUnauthenticated}, Dst: StateFailed},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateAuthenticated: func(_ context.Context, e *fsm.Event) {
			m.current = e.Args[0].(*Session)
		},
		"enter_" + StateUnauthenticated: func(context.Context, *fsm.Event) {
			m.current = nil
		},
		"enter_" + StateFailed: func(context.Context, *fsm.Event) {
			m.current = nil
		},
	}

	m.FSM = fsm.NewFSM(StateUnauthenticated, events, callbacks)
	return m
}
