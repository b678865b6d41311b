package session

import "errors"

// Backend status values a Manager method can fail with. The dispatcher's
// operation handlers translate these into wire result codes per the
// error-code translation table; Manager itself never knows about wire
// opcodes or result codes.
var (
	ErrGroupNotFound      = errors.New("session: session group not found")
	ErrJobNotExist        = errors.New("session: job does not exist")
	ErrExceedMax          = errors.New("session: job count exceeds per-group maximum")
	ErrInvalidTableName   = errors.New("session: invalid table name")
	ErrAlloc              = errors.New("session: allocation failed")
	ErrJobAlreadyStarted  = errors.New("session: job already started")
	ErrJobAlreadyStopped  = errors.New("session: job already stopped")
	ErrInvalidAttr        = errors.New("session: attribute id does not exist")
	ErrInvalidValue       = errors.New("session: invalid attribute value")
	ErrInvalidJobStatus   = errors.New("session: operation not permitted in current job status")
	ErrAlreadyRegistered  = errors.New("session: table already registered")
	ErrUnregistered       = errors.New("session: table not registered")
	ErrNoTablesRegistered = errors.New("session: job has no registered tables")
)
