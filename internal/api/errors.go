package api

import "pulsebench/internal/apierrors"

// RequestError is an alias of apierrors.RequestError so existing call sites
// in this package (and its tests) can keep referring to api.RequestError.
// The type itself lives in internal/apierrors so domain packages can raise
// one without importing the handler package.
type RequestError = apierrors.RequestError

// The following constructors forward to internal/apierrors. See that
// package for documentation of each error kind.

func BadRequest(message string) RequestError          { return apierrors.BadRequest(message) }
func Unauthenticated(message string) RequestError     { return apierrors.Unauthenticated(message) }
func Forbidden(message string) RequestError           { return apierrors.Forbidden(message) }
func NotFound(message string) RequestError            { return apierrors.NotFound(message) }
func Conflict(message string) RequestError            { return apierrors.Conflict(message) }
func FeatureDisabled(message string) RequestError     { return apierrors.FeatureDisabled(message) }
func InsufficientCredits(message string) RequestError { return apierrors.InsufficientCredits(message) }
func ServiceUnavailable(message string) RequestError  { return apierrors.ServiceUnavailable(message) }
func Fatal(err error) RequestError                    { return apierrors.Fatal(err) }
func ValidationError(message string) RequestError     { return apierrors.ValidationError(message) }

func ServiceUnavailableError(message string) RequestError {
	return apierrors.ServiceUnavailable(message)
}
