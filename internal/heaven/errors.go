package heaven

import (
	"errors"
	"fmt"

	"github.com/example/heaven-sync/internal/browser"
	"github.com/example/heaven-sync/internal/domain/reservation"
)

// AuthenticationFailure means the login form was submitted but the browser
// did not leave the login page.
type AuthenticationFailure struct {
	URL string
}

func (e *AuthenticationFailure) Error() string {
	return fmt.Sprintf("login rejected: still on %s", e.URL)
}

// UnknownCourseError means the course has no entry in the catalog.
type UnknownCourseError struct {
	Course reservation.Course
}

func (e *UnknownCourseError) Error() string {
	return fmt.Sprintf("unknown course: %s", e.Course)
}

type CastNotFoundError struct {
	CastName string
}

func (e *CastNotFoundError) Error() string {
	return fmt.Sprintf("cast not found: %s", e.CastName)
}

type TimeSlotNotFoundError struct {
	TimeSlot string
	Err      error
}

func (e *TimeSlotNotFoundError) Error() string {
	return fmt.Sprintf("time slot not found: %s", e.TimeSlot)
}

func (e *TimeSlotNotFoundError) Unwrap() error { return e.Err }

type CustomerBarNotFoundError struct {
	Err error
}

func (e *CustomerBarNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("customer registration bar not found: %v", e.Err)
	}
	return "customer registration bar not found"
}

func (e *CustomerBarNotFoundError) Unwrap() error { return e.Err }

// UnexpectedError wraps every failure that has no more specific type,
// including panics raised inside a step.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string { return fmt.Sprintf("unexpected error: %v", e.Err) }
func (e *UnexpectedError) Unwrap() error { return e.Err }

// StepFailure aborts an attempt. AfterSubmit reports that the remote system
// already holds a reservation record created by this attempt.
type StepFailure struct {
	Step        StepName
	Err         error
	AfterSubmit bool
}

func (e *StepFailure) Error() string { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }
func (e *StepFailure) Unwrap() error { return e.Err }

// Cause codes returned by Kind.
const (
	KindInvalidRequest      = "invalid_request"
	KindLaunch              = "launch_error"
	KindAuthentication      = "authentication_failure"
	KindElementTimeout      = "element_timeout"
	KindUnknownCourse       = "unknown_course"
	KindCastNotFound        = "cast_not_found"
	KindTimeSlotNotFound    = "time_slot_not_found"
	KindCustomerBarNotFound = "customer_bar_not_found"
	KindUnexpected          = "unexpected_error"
)

// Kind maps err to a stable cause code. nil maps to "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		invalid *reservation.ValidationError
		launch  *browser.LaunchError
		auth    *AuthenticationFailure
		course  *UnknownCourseError
		cast    *CastNotFoundError
		slot    *TimeSlotNotFoundError
		bar     *CustomerBarNotFoundError
		timeout *browser.ElementTimeoutError
	)
	switch {
	case errors.As(err, &invalid):
		return KindInvalidRequest
	case errors.As(err, &launch):
		return KindLaunch
	case errors.As(err, &auth):
		return KindAuthentication
	case errors.As(err, &course):
		return KindUnknownCourse
	case errors.As(err, &cast):
		return KindCastNotFound
	case errors.As(err, &slot):
		return KindTimeSlotNotFound
	case errors.As(err, &bar):
		return KindCustomerBarNotFound
	case errors.As(err, &timeout):
		return KindElementTimeout
	default:
		return KindUnexpected
	}
}

// classify leaves typed failures alone and wraps everything else in
// UnexpectedError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) == KindUnexpected {
		var u *UnexpectedError
		if errors.As(err, &u) {
			return err
		}
		return &UnexpectedError{Err: err}
	}
	return err
}
