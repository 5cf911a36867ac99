package domain

import apperrors "github.com/louisbranch/pointing.space/internal/errors"

// FinalizePolicy decides the estimate to record when the moderator finalizes
// a round without supplying an explicit value.
type FinalizePolicy interface {
	DefaultEstimate(votes []Vote) (Point, error)
}

// RequireExplicitPolicy rejects finalize calls that omit the estimate. This
// is the safe default: the engine never guesses consensus on the group's
// behalf.
type RequireExplicitPolicy struct{}

// DefaultEstimate always fails with a validation error.
func (RequireExplicitPolicy) DefaultEstimate([]Vote) (Point, error) {
	return 0, apperrors.New(apperrors.CodeEstimateValueRequired, "final estimate value is required")
}

// ModePolicy records the most common numeric vote, ties broken toward the
// lower value. Rounds with no numeric votes still require an explicit value.
type ModePolicy struct{}

// DefaultEstimate returns the mode of the revealed votes.
func (ModePolicy) DefaultEstimate(votes []Vote) (Point, error) {
	stats := ComputeVoteStats(votes)
	if stats.Mode == 0 {
		return 0, apperrors.New(apperrors.CodeEstimateValueRequired,
			"no numeric votes to derive an estimate from")
	}
	return stats.Mode, nil
}
