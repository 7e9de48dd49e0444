package moderation

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrFlagNotFound     = errors.New("flag not found")
	ErrFlagResolved     = errors.New("flag is already resolved")
	ErrForbidden        = errors.New("you are not allowed to resolve flags")
	ErrUnauthenticated  = errors.New("authentication required")
	ErrMalformedVerdict = errors.New("malformed classifier verdict")
	ErrAppealInProgress = errors.New("an appeal on this flag is already being filed, please retry shortly")
)

// ClassifierError means the classifier could not be reached or refused the call.
type ClassifierError struct {
	Err error
}

func (err *ClassifierError) Error() string {
	return "classifier unavailable: " + err.Err.Error()
}

func (err *ClassifierError) Unwrap() error { return err.Err }

func IsClassifierError(err error) bool {
	var cErr *ClassifierError
	return errors.As(err, &cErr)
}

// PersistenceError means a Flag or Appeal could not be written.
type PersistenceError struct {
	Op  string
	Err error
}

func (err *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", err.Op, err.Err)
}

func (err *PersistenceError) Unwrap() error { return err.Err }

func IsPersistenceError(err error) bool {
	var pErr *PersistenceError
	return errors.As(err, &pErr)
}

type DuplicateAppealError struct {
	UserID   string
	FlagID   string
	AppealID string // the appeal already stored
}

func (err *DuplicateAppealError) Error() string {
	return "an appeal has already been filed for this flag"
}

func IsDuplicateAppealError(err error) bool {
	var dErr *DuplicateAppealError
	return errors.As(err, &dErr)
}
