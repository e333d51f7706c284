package tutor

import "errors"

var (
	// ErrSessionInit reports that a session could not be started.
	ErrSessionInit = errors.New("failed to start tutoring session")
	// ErrNotInitialized reports a Continue without a started session.
	ErrNotInitialized = errors.New("chat not initialized")
	// ErrRemoteCall reports a failed dialogue turn. The session stays usable.
	ErrRemoteCall = errors.New("remote model call failed")
	// ErrEmptyReply marks a reply without text.
	ErrEmptyReply = errors.New("model returned an empty reply")
	// ErrConceptRequired rejects blank concepts.
	ErrConceptRequired = errors.New("concept is required")
)
