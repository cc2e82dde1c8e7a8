package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"polling-backend/ledger"
	"polling-backend/models"
)

// State of the operation status.
type State int

const (
	StateIdle State = iota
	StatePending
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateIdle, StatePending, StateSuccess, StateError} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.Errorf("unknown state %q", text)
}

// ErrorKind classifies a failed operation.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorUserRejected
	ErrorGeneric
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorUserRejected:
		return "user_rejected"
	case ErrorGeneric:
		return "generic"
	default:
		return ""
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ErrorKind) UnmarshalText(text []byte) error {
	for _, candidate := range []ErrorKind{ErrorNone, ErrorUserRejected, ErrorGeneric} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return errors.Errorf("unknown error kind %q", text)
}

// Action names an entry point that reports through the status.
type Action string

const (
	ActionLoad           Action = "load"
	ActionCreateTopic    Action = "create_topic"
	ActionCastVote       Action = "cast_vote"
	ActionSubmitFeedback Action = "submit_feedback"
	ActionDecrypt        Action = "decrypt"
)

// guarded actions cannot be started again while they are pending.
func (a Action) guarded() bool {
	switch a {
	case ActionCreateTopic, ActionCastVote, ActionSubmitFeedback:
		return true
	default:
		return false
	}
}

func (a Action) failurePrefix() string {
	switch a {
	case ActionLoad:
		return "Failed to load data"
	case ActionCastVote:
		return "Vote failed"
	case ActionDecrypt:
		return "Decryption failed"
	default:
		return "Submission failed"
	}
}

// ErrBusy is returned when a guarded action is started while pending.
var ErrBusy = errors.New("operation already in progress")

// Status is the single visible operation status.
type Status struct {
	State       State     `json:"state"`
	Action      Action    `json:"action,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	OperationID string    `json:"operation_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusTracker runs the Idle, Pending, Success/Error state machine. Success
// and Error revert to Idle after their linger delay unless a newer operation
// has replaced them.
type StatusTracker struct {
	successLinger time.Duration
	errorLinger   time.Duration
	metrics       *Metrics
	logger        zerolog.Logger

	mu         sync.Mutex
	current    Status
	generation uint64
	busy       map[Action]bool
}

// NewStatusTracker returns an idle tracker. metrics may be nil.
func NewStatusTracker(successLinger, errorLinger time.Duration, metrics *Metrics, logger zerolog.Logger) *StatusTracker {
	return &StatusTracker{
		successLinger: successLinger,
		errorLinger:   errorLinger,
		metrics:       metrics,
		logger:        logger,
		current:       Status{State: StateIdle, UpdatedAt: time.Now()},
		busy:          make(map[Action]bool),
	}
}

// Current returns the visible status.
func (t *StatusTracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// IsBusy reports whether a guarded action is pending.
func (t *StatusTracker) IsBusy(action Action) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy[action]
}

// Begin moves the status to Pending for action.
func (t *StatusTracker) Begin(action Action, message string) (*Operation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if action.guarded() {
		if t.busy[action] {
			return nil, errors.Wrapf(ErrBusy, "%s", action)
		}
		t.busy[action] = true
	}

	op := &Operation{
		ID:      uuid.New().String(),
		Action:  action,
		tracker: t,
		started: time.Now(),
	}
	t.setLocked(Status{
		State:       StatePending,
		Action:      action,
		Message:     message,
		OperationID: op.ID,
	})

	t.logger.Debug().Str("op", op.ID).Str("action", string(action)).Msg("operation started")
	return op, nil
}

func (t *StatusTracker) setLocked(status Status) uint64 {
	status.UpdatedAt = time.Now()
	t.current = status
	t.generation++
	return t.generation
}

func (t *StatusTracker) finish(op *Operation, status Status, linger time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if op.Action.guarded() {
		delete(t.busy, op.Action)
	}
	gen := t.setLocked(status)

	time.AfterFunc(linger, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.generation == gen {
			t.setLocked(Status{State: StateIdle})
		}
	})
}

// Operation is one in-flight call tracked by a StatusTracker.
type Operation struct {
	ID     string
	Action Action

	tracker *StatusTracker
	started time.Time
	once    sync.Once
}

// Succeed moves the status to Success.
func (op *Operation) Succeed(message string) {
	op.once.Do(func() {
		t := op.tracker
		t.metrics.observe(op.Action, "success", time.Since(op.started))
		t.finish(op, Status{
			State:       StateSuccess,
			Action:      op.Action,
			Message:     message,
			OperationID: op.ID,
		}, t.successLinger)
		t.logger.Debug().Str("op", op.ID).Str("action", string(op.Action)).Msg("operation succeeded")
	})
}

// Fail moves the status to Error and returns how err was classified.
func (op *Operation) Fail(err error) ErrorKind {
	kind := ClassifyError(err)
	op.once.Do(func() {
		t := op.tracker
		t.metrics.observe(op.Action, kind.String(), time.Since(op.started))
		t.finish(op, Status{
			State:       StateError,
			Action:      op.Action,
			ErrorKind:   kind,
			Message:     FailureMessage(op.Action, err),
			OperationID: op.ID,
		}, t.errorLinger)
		t.logger.Warn().Err(err).Str("op", op.ID).Str("action", string(op.Action)).Str("kind", kind.String()).Msg("operation failed")
	})
	return kind
}

// ClassifyError separates wallet or ledger cancellations from other failures.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorNone
	}
	if ledger.IsUserRejected(err) || errors.Is(err, models.ErrCancelled) {
		return ErrorUserRejected
	}
	return ErrorGeneric
}

// FailureMessage renders err as the status text shown for action.
func FailureMessage(action Action, err error) string {
	switch {
	case ClassifyError(err) == ErrorUserRejected:
		return "Transaction rejected by user"
	case errors.Is(err, models.ErrUnauthenticated):
		return "Please connect wallet first"
	default:
		return action.failurePrefix() + ": " + err.Error()
	}
}
