// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provision

import (
	"errors"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes provisioning failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMetadataUnavailable
	KindDownloadFailed
	KindModelLoadFailed
	KindInsufficientDisk
	KindInProgress
	KindRuntimeUnavailable
)

// String returns the human readable kind.
func (k ErrorKind) String() string {
	switch k {
	case KindMetadataUnavailable:
		return "remote metadata unavailable"
	case KindDownloadFailed:
		return "download failed"
	case KindModelLoadFailed:
		return "model load failed"
	case KindInsufficientDisk:
		return "insufficient disk space"
	case KindInProgress:
		return "provisioning already in progress"
	case KindRuntimeUnavailable:
		return "runtime unavailable"
	default:
		return "provisioning failed"
	}
}

// Error is a provisioning failure with its cause.
type Error struct {
	Kind  ErrorKind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is works against the
// sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel errors for easy checking.
var (
	ErrMetadataUnavailable = &Error{Kind: KindMetadataUnavailable}
	ErrDownloadFailed      = &Error{Kind: KindDownloadFailed}
	ErrModelLoadFailed     = &Error{Kind: KindModelLoadFailed}
	ErrInsufficientDisk    = &Error{Kind: KindInsufficientDisk}
	ErrProvisionInProgress = &Error{Kind: KindInProgress}
	ErrRuntimeUnavailable  = &Error{Kind: KindRuntimeUnavailable}
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

func isKind(err error, kind ErrorKind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// IsMetadataUnavailable reports whether the remote size could not be read.
func IsMetadataUnavailable(err error) bool { return isKind(err, KindMetadataUnavailable) }

// IsDownloadFailed reports whether the artifact transfer failed.
func IsDownloadFailed(err error) bool { return isKind(err, KindDownloadFailed) }

// IsModelLoadFailed reports whether the runtime rejected the artifact.
func IsModelLoadFailed(err error) bool { return isKind(err, KindModelLoadFailed) }

// IsRuntimeUnavailable reports whether the runtime could not be reached. The
// verified artifact is kept in that case.
func IsRuntimeUnavailable(err error) bool { return isKind(err, KindRuntimeUnavailable) }

// IsInProgress reports whether another provisioning attempt was running.
func IsInProgress(err error) bool { return isKind(err, KindInProgress) }
