package replay

import "errors"

// ErrUnknownEventType is returned when a stream carries an event the
// runner cannot dispatch.
var ErrUnknownEventType = errors.New("unknown event type")
