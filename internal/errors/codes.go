// Package errors provides structured error handling for the poker domain.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionEmptyProjectID   Code = "SESSION_EMPTY_PROJECT_ID"
	CodeSessionEmptyTaskQueue   Code = "SESSION_EMPTY_TASK_QUEUE"
	CodeSessionDuplicateTask    Code = "SESSION_DUPLICATE_TASK"
	CodeSessionNotFound         Code = "SESSION_NOT_FOUND"
	CodeSessionEnded            Code = "SESSION_ENDED"
	CodeActiveSessionExists     Code = "ACTIVE_SESSION_EXISTS"
	CodeSessionTaskNotCurrent   Code = "SESSION_TASK_NOT_CURRENT"
	CodeSessionModeratorDenied  Code = "SESSION_MODERATOR_DENIED"
	CodeSessionInvalidTaskQueue Code = "SESSION_INVALID_TASK_QUEUE"

	// Round errors
	CodeRoundNotCollecting Code = "ROUND_NOT_COLLECTING"
	CodeRoundNotRevealed   Code = "ROUND_NOT_REVEALED"
	CodeRoundFinalized     Code = "ROUND_FINALIZED"
	CodeRoundNotFound      Code = "ROUND_NOT_FOUND"

	// Vote errors
	CodeVoteInvalidPoint      Code = "VOTE_INVALID_POINT"
	CodeVoteEmptyParticipant  Code = "VOTE_EMPTY_PARTICIPANT"
	CodeVoteAfterReveal       Code = "VOTE_AFTER_REVEAL"
	CodeEstimateInvalidPoint  Code = "ESTIMATE_INVALID_POINT"
	CodeEstimateValueRequired Code = "ESTIMATE_VALUE_REQUIRED"

	// Task errors
	CodeTaskNotFound Code = "TASK_NOT_FOUND"

	// Auth errors
	CodeAuthTokenInvalid Code = "AUTH_TOKEN_INVALID"
	CodeAuthTokenExpired Code = "AUTH_TOKEN_EXPIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeSessionEmptyProjectID,
		CodeSessionEmptyTaskQueue,
		CodeSessionDuplicateTask,
		CodeSessionInvalidTaskQueue,
		CodeVoteInvalidPoint,
		CodeVoteEmptyParticipant,
		CodeEstimateInvalidPoint,
		CodeEstimateValueRequired:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeActiveSessionExists,
		CodeRoundNotCollecting,
		CodeRoundNotRevealed,
		CodeRoundFinalized,
		CodeVoteAfterReveal:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist or no longer accepts the operation
	case CodeNotFound,
		CodeSessionNotFound,
		CodeSessionEnded,
		CodeSessionTaskNotCurrent,
		CodeRoundNotFound,
		CodeTaskNotFound:
		return codes.NotFound

	// PermissionDenied - caller lacks moderation rights
	case CodeSessionModeratorDenied:
		return codes.PermissionDenied

	// Unauthenticated - caller identity could not be established
	case CodeAuthTokenInvalid, CodeAuthTokenExpired:
		return codes.Unauthenticated

	default:
		return codes.Internal
	}
}
