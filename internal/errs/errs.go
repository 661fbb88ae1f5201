// Package errs defines the user-facing error taxonomy. Every action in the
// system returns either a domain value or an *Error; handlers map the Kind to
// an HTTP status and a stable wire code. Internal kinds never leak details
// beyond their code.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the failure categories exposed by the API.
type Kind int

const (
	KindUnknown Kind = iota

	// 401
	KindLoginRequired

	// 403
	KindPermissions

	// 404
	KindUserNotFound
	KindProjectNotFound
	KindRoleNotFound
	KindGroupNotFound
	KindNetworkTraceNotFound
	KindFriendNotFound
	KindInviteNotFound
	KindThumbnailNotFound

	// 409
	KindUserExists
	KindEmailExists
	KindGroupExists
	KindProjectExists
	KindProjectNotActive
	KindAccountAlreadyLinked
	KindPasswordResetLinkSent
	KindInviteNotAllowed

	// 400
	KindBannedUser
	KindIncorrectPassword
	KindInvalidName
	KindInvalidEmailAddress
	KindInvalidUsername
	KindInvalidClientID
	KindInvalidAppID
	KindInvalidAccountType
	KindCannotDeleteLastRole

	// 500
	KindDatabase
	KindBlobStore
	KindBlobContent
	KindBase64Decode
	KindThumbnailDecode
	KindThumbnailEncode
	KindEmailBuild
	KindTimeout
	KindInternal
)

// Error is the uniform error value returned by actions and witnesses.
type Error struct {
	Kind Kind
	// Err is the wrapped cause, if any. It is logged but never rendered.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code(), e.Err)
	}
	return e.Message()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on bare kinds constructed with New.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New returns an error of the given kind with no cause.
func New(kind Kind) *Error { return &Error{Kind: kind} }

// Wrap returns an error of the given kind caused by err.
func Wrap(kind Kind, err error) *Error { return &Error{Kind: kind, Err: err} }

// Database wraps a storage failure. All storage errors funnel through here so
// the wire never sees driver details.
func Database(err error) *Error { return &Error{Kind: KindDatabase, Err: err} }

// As extracts an *Error from the chain, if one is present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Status maps the kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindLoginRequired:
		return http.StatusUnauthorized
	case KindPermissions:
		return http.StatusForbidden
	case KindUserNotFound, KindProjectNotFound, KindRoleNotFound, KindGroupNotFound,
		KindNetworkTraceNotFound, KindFriendNotFound, KindInviteNotFound, KindThumbnailNotFound:
		return http.StatusNotFound
	case KindUserExists, KindEmailExists, KindGroupExists, KindProjectExists, KindProjectNotActive, KindAccountAlreadyLinked,
		KindPasswordResetLinkSent, KindInviteNotAllowed:
		return http.StatusConflict
	case KindBannedUser, KindIncorrectPassword,
		KindInvalidName, KindInvalidEmailAddress, KindInvalidUsername, KindInvalidClientID,
		KindInvalidAppID, KindInvalidAccountType, KindCannotDeleteLastRole:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable wire code for the kind.
func (e *Error) Code() string {
	if code, ok := codes[e.Kind]; ok {
		return code
	}
	return "Internal"
}

// Message returns the human-readable message rendered on the wire.
func (e *Error) Message() string {
	if msg, ok := messages[e.Kind]; ok {
		return msg
	}
	return "An internal error occurred. Please try again later."
}

var codes = map[Kind]string{
	KindLoginRequired:         "LoginRequired",
	KindPermissions:           "Permissions",
	KindBannedUser:            "BannedUser",
	KindIncorrectPassword:     "IncorrectPassword",
	KindUserNotFound:          "UserNotFound",
	KindProjectNotFound:       "ProjectNotFound",
	KindRoleNotFound:          "RoleNotFound",
	KindGroupNotFound:         "GroupNotFound",
	KindNetworkTraceNotFound:  "NetworkTraceNotFound",
	KindFriendNotFound:        "FriendNotFound",
	KindInviteNotFound:        "InviteNotFound",
	KindThumbnailNotFound:     "ThumbnailNotFound",
	KindUserExists:            "UserExists",
	KindEmailExists:           "EmailExists",
	KindGroupExists:           "GroupExists",
	KindProjectExists:         "ProjectExists",
	KindProjectNotActive:      "ProjectNotActive",
	KindAccountAlreadyLinked:  "AccountAlreadyLinked",
	KindPasswordResetLinkSent: "PasswordResetLinkSent",
	KindInviteNotAllowed:      "InviteNotAllowed",
	KindInvalidName:           "InvalidName",
	KindInvalidEmailAddress:   "InvalidEmailAddress",
	KindInvalidUsername:       "InvalidUsername",
	KindInvalidClientID:       "InvalidClientId",
	KindInvalidAppID:          "InvalidAppId",
	KindInvalidAccountType:    "InvalidAccountType",
	KindCannotDeleteLastRole:  "CannotDeleteLastRole",
	KindDatabase:              "Internal",
	KindBlobStore:             "Internal",
	KindBlobContent:           "Internal",
	KindBase64Decode:          "Internal",
	KindThumbnailDecode:       "Internal",
	KindThumbnailEncode:       "Internal",
	KindEmailBuild:            "Internal",
	KindTimeout:               "Internal",
	KindInternal:              "Internal",
}

var messages = map[Kind]string{
	KindLoginRequired:         "Login required.",
	KindPermissions:           "Not allowed.",
	KindBannedUser:            "User has been banned.",
	KindIncorrectPassword:     "Incorrect password.",
	KindUserNotFound:          "User not found.",
	KindProjectNotFound:       "Project not found.",
	KindRoleNotFound:          "Role not found.",
	KindGroupNotFound:         "Group not found.",
	KindNetworkTraceNotFound:  "Network trace not found.",
	KindFriendNotFound:        "Friend not found.",
	KindInviteNotFound:        "Invitation not found.",
	KindThumbnailNotFound:     "Thumbnail not found.",
	KindUserExists:            "User already exists.",
	KindEmailExists:           "Email address already in use.",
	KindGroupExists:           "Group already exists.",
	KindProjectExists:         "Project already exists.",
	KindProjectNotActive:      "Project not active.",
	KindAccountAlreadyLinked:  "Account already linked.",
	KindPasswordResetLinkSent: "Password reset link already sent.",
	KindInviteNotAllowed:      "Invitation not allowed.",
	KindInvalidName:           "Invalid name.",
	KindInvalidEmailAddress:   "Invalid email address.",
	KindInvalidUsername:       "Invalid username.",
	KindInvalidClientID:       "Invalid client ID.",
	KindInvalidAppID:          "Invalid app ID.",
	KindInvalidAccountType:    "Invalid account type.",
	KindCannotDeleteLastRole:  "Cannot delete the last role of a project.",
}
