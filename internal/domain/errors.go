// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the request contradicts the current state of the resource.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates a malformed request. Nothing was persisted.
var ErrValidation = errors.New("validation failed")
