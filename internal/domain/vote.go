package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// VoteStatus tracks a vote from casting to counting
type VoteStatus string

const (
	VoteCast      VoteStatus = "CAST"
	VoteVerified  VoteStatus = "VERIFIED"
	VoteCounted   VoteStatus = "COUNTED"
	VoteDisputed  VoteStatus = "DISPUTED"
	VoteInvalid   VoteStatus = "INVALID"
	VoteRecounted VoteStatus = "RECOUNTED"
)

// ReceiptLength is the number of hex characters of the vote hash handed to the voter
const ReceiptLength = 16

// Counts reports whether a vote in this status is included in the tally.
func (s VoteStatus) Counts() bool {
	switch s {
	case VoteCast, VoteVerified, VoteCounted, VoteRecounted:
		return true
	}
	return false
}

// A disputed vote is never restored, only invalidated.
var voteTransitions = map[VoteStatus][]VoteStatus{
	VoteCast:      {VoteVerified, VoteCounted, VoteDisputed, VoteInvalid},
	VoteVerified:  {VoteCounted, VoteDisputed, VoteInvalid},
	VoteCounted:   {VoteRecounted, VoteDisputed, VoteInvalid},
	VoteRecounted: {VoteRecounted, VoteDisputed, VoteInvalid},
	VoteDisputed:  {VoteInvalid},
	VoteInvalid:   {},
}

// CanTransition reports whether a vote may move from one status to another.
func CanTransition(from, to VoteStatus) bool {
	for _, s := range voteTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Vote is a persisted ballot for one position
type Vote struct {
	ID               string     `json:"id"`
	ElectionID       string     `json:"election_id"`
	PositionID       string     `json:"position_id"`
	CandidateID      string     `json:"candidate_id,omitempty"`
	IsAbstention     bool       `json:"is_abstention"`
	AbstentionReason string     `json:"abstention_reason,omitempty"`
	VoterID          string     `json:"-"`
	SecretCodeID     string     `json:"-"`
	Status           VoteStatus `json:"status"`
	Salt             string     `json:"-"`
	VoteHash         string     `json:"-"`
	ReceiptHash      string     `json:"receipt_hash"`
	ChainSeq         int        `json:"-"`
	PrevChainHash    string     `json:"-"`
	ChainHash        string     `json:"-"`
	Signature        string     `json:"-"`
	StatusReason     string     `json:"status_reason,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ComputeVoteHash is SHA-256 over voter, position, candidate, timestamp and salt.
func ComputeVoteHash(voterID, positionID, candidateID string, ts time.Time, salt string) string {
	h := sha256.New()
	for _, part := range []string{
		voterID,
		positionID,
		candidateID,
		strconv.FormatInt(ts.UTC().UnixMicro(), 10),
		salt,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReceiptFromHash truncates a vote hash into the voter-facing receipt.
func ReceiptFromHash(voteHash string) string {
	if len(voteHash) > ReceiptLength {
		voteHash = voteHash[:ReceiptLength]
	}
	return strings.ToUpper(voteHash)
}

// RecomputeHash rebuilds the vote hash from the stored fields.
func (v *Vote) RecomputeHash() string {
	return ComputeVoteHash(v.VoterID, v.PositionID, v.CandidateID, v.Timestamp, v.Salt)
}
