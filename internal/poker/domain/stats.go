package domain

// VoteStats summarizes a revealed vote set for read projections.
type VoteStats struct {
	// VoterCount is the number of distinct participants who voted,
	// including unsure votes.
	VoterCount int
	// UnsureCount is the number of participants who abstained with "?".
	UnsureCount int
	// Mode is the most common numeric vote, ties broken toward the lower
	// value. Zero when no numeric votes exist.
	Mode Point
	// Average is the mean of numeric votes. Zero when no numeric votes
	// exist.
	Average float64
}

// ComputeVoteStats aggregates a vote set. Votes are assumed to already be
// distinct per participant (the store upserts by identity).
func ComputeVoteStats(votes []Vote) VoteStats {
	stats := VoteStats{VoterCount: len(votes)}

	counts := make(map[Point]int)
	sum := 0
	numeric := 0
	for _, vote := range votes {
		if vote.Value.Unsure {
			stats.UnsureCount++
			continue
		}
		counts[vote.Value.Point]++
		sum += int(vote.Value.Point)
		numeric++
	}
	if numeric == 0 {
		return stats
	}

	stats.Average = float64(sum) / float64(numeric)

	// Walk the deck in ascending order so ties resolve to the lower value.
	best := 0
	for _, point := range deck {
		if counts[point] > best {
			best = counts[point]
			stats.Mode = point
		}
	}
	return stats
}
