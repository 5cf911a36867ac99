package domain

import (
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/pointing.space/internal/errors"
)

// UnsureValue is the wire form of a vote that abstains from a numeric
// estimate.
const UnsureValue = "?"

// VoteValue is a single participant's estimate: either a deck point or the
// "unsure" sentinel.
type VoteValue struct {
	Unsure bool
	Point  Point
}

// UnsureVote returns the sentinel value for participants who cannot estimate.
func UnsureVote() VoteValue {
	return VoteValue{Unsure: true}
}

// PointVote wraps a deck point as a vote value.
func PointVote(point Point) VoteValue {
	return VoteValue{Point: point}
}

// String returns the wire representation of the value.
func (v VoteValue) String() string {
	if v.Unsure {
		return UnsureValue
	}
	return strconv.Itoa(int(v.Point))
}

// ParseVoteValue converts a client-supplied string into a vote value.
// Accepted forms are the deck numbers and the "?" sentinel.
func ParseVoteValue(raw string) (VoteValue, error) {
	raw = strings.TrimSpace(raw)
	if raw == UnsureValue {
		return UnsureVote(), nil
	}
	numeric, err := strconv.Atoi(raw)
	if err != nil {
		return VoteValue{}, apperrors.WithMetadata(apperrors.CodeVoteInvalidPoint,
			"vote value must be a deck number or ?",
			map[string]string{"value": raw})
	}
	point := Point(numeric)
	if !point.IsValid() {
		return VoteValue{}, apperrors.WithMetadata(apperrors.CodeVoteInvalidPoint,
			"vote value is not in the deck",
			map[string]string{"value": raw})
	}
	return PointVote(point), nil
}

// Vote is one participant's submitted estimate for a task within a session.
// Identity is the (session, task, participant) triple; re-voting overwrites.
type Vote struct {
	SessionID     string
	TaskID        string
	ParticipantID string
	Value         VoteValue
	// UpdatedAt reflects server-received order, not client clocks.
	UpdatedAt time.Time
}

// NewVote validates identity fields and stamps the vote with server time.
func NewVote(sessionID, taskID, participantID string, value VoteValue, now func() time.Time) (Vote, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return Vote{}, apperrors.New(apperrors.CodeVoteEmptyParticipant, "participant id is required")
	}
	if now == nil {
		now = time.Now
	}
	return Vote{
		SessionID:     sessionID,
		TaskID:        taskID,
		ParticipantID: participantID,
		Value:         value,
		UpdatedAt:     now().UTC(),
	}, nil
}
