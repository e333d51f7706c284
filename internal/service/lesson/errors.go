package lesson

import (
	"errors"

	"github.com/zhouzirui/socratic-spark/backend/internal/service/tutor"
)

var (
	ErrLessonNotFound  = errors.New("lesson not found")
	ErrBusy            = errors.New("tutor is still answering")
	ErrAlreadyStarted  = errors.New("lesson already started")
	ErrMessageRequired = errors.New("message is required")
	// ErrConceptRequired is the tutor's sentinel so either package's name matches.
	ErrConceptRequired = tutor.ErrConceptRequired
	// ErrInterrupted is returned when the lesson was reset while a tutor call
	// was in flight; the late reply is discarded.
	ErrInterrupted = errors.New("lesson was reset during the call")
	// ErrShuttingDown is returned by a registry that no longer accepts lessons.
	ErrShuttingDown = errors.New("lesson service is shutting down")
)
