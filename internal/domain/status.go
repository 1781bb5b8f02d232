package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a changelog entry. The numeric values are
// persisted and ordered; they must not change.
type Status int

const (
	StatusDeleted   Status = -1
	StatusPending   Status = 0
	StatusSuccess   Status = 1
	StatusFailure   Status = 2
	StatusWarning   Status = 3
	StatusCancelled Status = 4
	StatusHold      Status = 5
)

var statusNames = map[Status]string{
	StatusDeleted:   "deleted",
	StatusPending:   "pending",
	StatusSuccess:   "success",
	StatusFailure:   "failure",
	StatusWarning:   "warning",
	StatusCancelled: "cancelled",
	StatusHold:      "hold",
}

// Statuses lists every status in ascending order.
func Statuses() []Status {
	return []Status{StatusDeleted, StatusPending, StatusSuccess, StatusFailure, StatusWarning, StatusCancelled, StatusHold}
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outstanding reports whether a log with this status still needs a sync
// attempt: anything but SUCCESS, HOLD and DELETED.
func (s Status) Outstanding() bool {
	return s.Valid() && s != StatusSuccess && s != StatusHold && s != StatusDeleted
}

// Terminal statuses remove the log record when applied.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusDeleted
}

// CanTransition reports whether a log may move from one status to another.
// PENDING may go anywhere; FAILURE, WARNING, CANCELLED and HOLD may only be
// resubmitted, reclaimed or discarded. Re-applying the current status is
// allowed so a message can be refreshed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if from == to || from == StatusPending {
		return true
	}
	switch to {
	case StatusPending, StatusSuccess, StatusDeleted:
		return true
	}
	return false
}

// ParseStatus accepts a status name or its numeric value.
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for s, name := range statusNames {
		if name == v || fmt.Sprint(int(s)) == v {
			return s, nil
		}
	}
	return 0, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", v)}
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %d", int(s))}
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
