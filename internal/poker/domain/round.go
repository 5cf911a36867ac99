package domain

import (
	"fmt"
	"time"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
)

// RoundPhase describes the voting state of a single (session, task) pair.
type RoundPhase int

const (
	// RoundPhaseUnspecified represents an invalid round phase value.
	RoundPhaseUnspecified RoundPhase = iota
	// RoundPhaseCollecting indicates votes are being gathered blind.
	RoundPhaseCollecting
	// RoundPhaseRevealed indicates votes are visible to all participants.
	RoundPhaseRevealed
	// RoundPhaseFinalized indicates consensus was recorded for the task.
	RoundPhaseFinalized
)

// String returns the storage representation of the phase.
func (p RoundPhase) String() string {
	switch p {
	case RoundPhaseCollecting:
		return "COLLECTING"
	case RoundPhaseRevealed:
		return "REVEALED"
	case RoundPhaseFinalized:
		return "FINALIZED"
	default:
		return "UNSPECIFIED"
	}
}

// ParseRoundPhase reverses RoundPhase.String.
func ParseRoundPhase(raw string) (RoundPhase, error) {
	switch raw {
	case "COLLECTING":
		return RoundPhaseCollecting, nil
	case "REVEALED":
		return RoundPhaseRevealed, nil
	case "FINALIZED":
		return RoundPhaseFinalized, nil
	default:
		return RoundPhaseUnspecified, fmt.Errorf("unknown round phase %q", raw)
	}
}

// Round is the voting lifecycle for one task within a session.
type Round struct {
	SessionID     string
	TaskID        string
	Phase         RoundPhase
	FinalEstimate *Point // set once the round is finalized
	StartedAt     time.Time
	RevealedAt    *time.Time
	FinalizedAt   *time.Time
}

// NewRound opens a collecting round for the given task.
func NewRound(sessionID, taskID string, now func() time.Time) Round {
	if now == nil {
		now = time.Now
	}
	return Round{
		SessionID: sessionID,
		TaskID:    taskID,
		Phase:     RoundPhaseCollecting,
		StartedAt: now().UTC(),
	}
}

// CanAcceptVotes reports whether votes may still be cast. Votes after reveal
// are rejected so the revealed set stays authoritative.
func (r Round) CanAcceptVotes() bool {
	return r.Phase == RoundPhaseCollecting
}

// Reveal transitions the round to REVEALED. Revealing with zero votes is
// permitted; finalize then requires an explicit estimate.
func (r Round) Reveal(now func() time.Time) (Round, error) {
	if r.Phase != RoundPhaseCollecting {
		return Round{}, apperrors.WithMetadata(apperrors.CodeRoundNotCollecting,
			"round votes are already visible",
			map[string]string{"task_id": r.TaskID, "phase": r.Phase.String()})
	}
	if now == nil {
		now = time.Now
	}
	revealedAt := now().UTC()
	r.Phase = RoundPhaseRevealed
	r.RevealedAt = &revealedAt
	return r, nil
}

// Finalize records the consensus estimate and closes the round. The round
// must have passed through REVEALED first.
func (r Round) Finalize(estimate Point, now func() time.Time) (Round, error) {
	if r.Phase == RoundPhaseFinalized {
		return Round{}, apperrors.WithMetadata(apperrors.CodeRoundFinalized,
			"round already has a final estimate",
			map[string]string{"task_id": r.TaskID})
	}
	if r.Phase != RoundPhaseRevealed {
		return Round{}, apperrors.WithMetadata(apperrors.CodeRoundNotRevealed,
			"votes must be revealed before finalizing",
			map[string]string{"task_id": r.TaskID, "phase": r.Phase.String()})
	}
	if !estimate.IsValid() {
		return Round{}, apperrors.New(apperrors.CodeEstimateInvalidPoint, "final estimate is not in the deck")
	}
	if now == nil {
		now = time.Now
	}
	finalizedAt := now().UTC()
	r.Phase = RoundPhaseFinalized
	r.FinalEstimate = &estimate
	r.FinalizedAt = &finalizedAt
	return r, nil
}
