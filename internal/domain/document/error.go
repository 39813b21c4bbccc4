package document

import (
	"errors"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrSchemaViolation   = errors.New("document schema violation")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrOffline           = errors.New("network unavailable")
	ErrRemoteRejected    = errors.New("remote api rejected request")
	ErrConflict          = errors.New("remote copy is newer")
	ErrOfflineDelete     = errors.New("delete is not supported while offline")
)
