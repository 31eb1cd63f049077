// Package services holds the membership side of the relay: group tracking,
// code verification into private channels, welcomes, member counts and the
// pending-message relay. This file centralizes the service-level error values
// so callers can match them with errors.Is.
//
// Translation into chat replies or HTTP status codes happens at the caller.
package services

import "errors"

var (
	// ErrNoSocial indicates the chat does not belong to any directory entry.
	ErrNoSocial = errors.New("no social matches this chat")

	// ErrCodeTaken is returned when an active code is held by another user.
	ErrCodeTaken = errors.New("code already verified by another user")

	// ErrUpstream wraps failures talking to the admin or preference services.
	ErrUpstream = errors.New("upstream request failed")

	// ErrInvalidChatID is returned for a missing or non-integer chat id.
	ErrInvalidChatID = errors.New("invalid chat id")

	// ErrNotConfigured means the service lacks the URL it needs.
	ErrNotConfigured = errors.New("service not configured")
)
