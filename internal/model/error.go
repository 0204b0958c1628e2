package model

import "errors"

// Validation errors: caller-correctable, never retried.
var (
	ErrorInvalidName  = errors.New("invalid user name")
	ErrorInvalidEmail = errors.New("invalid email address")
	ErrorInvalidURL   = errors.New("invalid url")
	ErrorInvalidLogin = errors.New("invalid login name")
)

// Conflicts against the identity index.
var (
	ErrorNameTaken  = errors.New("user name already taken")
	ErrorEmailTaken = errors.New("email address already taken")
)

var ErrorUserNotFound = errors.New("user not found")

// Authentication outcomes. A locked account is reported distinctly from a
// wrong secret so clients can explain why login was refused.
var (
	ErrorWrongCredentials = errors.New("wrong login name or password")
	ErrorAccountLocked    = errors.New("account locked")
	ErrorNotAuthorized    = errors.New("not authorized")
)

// Recovery token outcomes. Expiry and tamper are never conflated.
var (
	ErrorTokenExpired = errors.New("recovery token expired")
	ErrorTokenInvalid = errors.New("recovery token invalid")
)

// ErrorStore is surfaced for persistent-store failures; the underlying cause
// is logged, never exposed.
var ErrorStore = errors.New("storage failure")
