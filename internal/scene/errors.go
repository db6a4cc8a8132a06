package scene

import "fmt"

// DuplicateSessionError is returned by Create when the user already has an
// active session. Callers end or replace the prior session.
type DuplicateSessionError struct {
	UserID   int64
	Existing string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("scene: user %d already has an active %s session", e.UserID, e.Existing)
}

// InvalidPageError reports a transition to a page the definition lacks.
type InvalidPageError struct {
	SceneType string
	Page      string
}

func (e *InvalidPageError) Error() string {
	return fmt.Sprintf("scene: %s has no page %q", e.SceneType, e.Page)
}

// UnknownTypeError reports a scene type with no registered blueprint.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("scene: unknown scene type %q", e.Type)
}
