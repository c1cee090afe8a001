package errors

import "fmt"

// Relay protocol errors. Every one of these is reported to the requesting
// connection only; none of them closes the connection.
var (
	ErrInvalidChannelCharset = fmt.Errorf("channel id can only contain letters and numbers")
	ErrInvalidChannelLength  = fmt.Errorf("channel id must be 2-32 characters")
	ErrChannelTaken          = fmt.Errorf("channel id already exists")
	ErrChannelNotFound       = fmt.Errorf("channel not found")
	ErrInvalidPassword       = fmt.Errorf("invalid password")
	ErrNotAuthorized         = fmt.Errorf("not authorized")
	ErrAlreadyAssigned       = fmt.Errorf("connection already has a role")
	ErrMalformedMessage      = fmt.Errorf("invalid message format")
	ErrUnknownMessageType    = fmt.Errorf("unknown message type")
)

// Identity collaborator errors.
var (
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrAccountBanned      = fmt.Errorf("account banned")
	ErrIPBanned           = fmt.Errorf("ip banned")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")
	ErrSessionExpired     = fmt.Errorf("session expired")
	ErrWeakPassword       = fmt.Errorf("password does not meet complexity requirements")
)
