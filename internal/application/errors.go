package application

import (
	"github.com/google/uuid"

	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
)

// wrapInternal keeps AppErrors as they are and wraps anything else as an internal error.
func wrapInternal(msg string, err error) error {
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	return errors.Internal(msg, err)
}

func invalidEventType(t constants.KeyEventType) error {
	return errors.InvalidRequest("unknown event type " + string(t))
}

func newID() string {
	return uuid.NewString()
}
