package server

import (
	"context"
	"log/slog"

	"github.com/qmuntal/stateless"
)

// Relay request states.
const (
	StateReceived      = "Received"
	StateValidating    = "Validating"
	StateRejected      = "Rejected"
	StateStreaming     = "Streaming"
	StateDone          = "Done"
	StateDoneWithError = "DoneWithError"
)

// Relay request triggers.
const (
	TriggerValidate = "Validate"
	TriggerReject   = "Reject"
	TriggerAccept   = "Accept"
	TriggerComplete = "Complete"
	TriggerFail     = "Fail"
)

// lifecycle tracks one relay request:
//
//	Received -> Validating -> Rejected
//	                       -> Streaming -> Done | DoneWithError
type lifecycle struct {
	fsm *stateless.StateMachine
	log *slog.Logger
}

func newLifecycle(log *slog.Logger) *lifecycle {
	fsm := stateless.NewStateMachine(StateReceived)
	fsm.Configure(StateReceived).
		Permit(TriggerValidate, StateValidating)
	fsm.Configure(StateValidating).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerAccept, StateStreaming)
	fsm.Configure(StateStreaming).
		Permit(TriggerComplete, StateDone).
		Permit(TriggerFail, StateDoneWithError)

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		log.Debug("relay state", "from", t.Source, "to", t.Destination, "trigger", t.Trigger)
	})
	return &lifecycle{fsm: fsm, log: log}
}

// fire moves to the next state. An impossible transition is a programming
// error and is only logged; the response is already committed by then.
func (l *lifecycle) fire(trigger string) {
	if err := l.fsm.Fire(trigger); err != nil {
		l.log.Error("relay state transition rejected", "trigger", trigger, "error", err)
	}
}

func (l *lifecycle) state() string {
	s, _ := l.fsm.MustState().(string)
	return s
}
