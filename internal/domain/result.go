package domain

import (
	"math"
	"sort"
	"time"
)

// ResultStatus is the certification level of a snapshot
type ResultStatus string

const (
	ResultProvisional ResultStatus = "PROVISIONAL"
	ResultFinal       ResultStatus = "FINAL"
	ResultContested   ResultStatus = "CONTESTED"
	ResultVerified    ResultStatus = "VERIFIED"
)

var resultPromotions = map[ResultStatus][]ResultStatus{
	ResultProvisional: {ResultFinal, ResultContested, ResultVerified},
	ResultFinal:       {ResultVerified, ResultContested},
	ResultContested:   {ResultFinal, ResultVerified},
}

// CanPromote reports whether a snapshot may move between statuses. Nothing returns to PROVISIONAL.
func CanPromote(from, to ResultStatus) bool {
	for _, s := range resultPromotions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CandidateResult is one candidate's line in a position tally
type CandidateResult struct {
	CandidateID string  `json:"candidate_id"`
	VoteCount   int     `json:"vote_count"`
	Percentage  float64 `json:"percentage"`
	Rank        int     `json:"rank"`
}

// PositionResult is the tally of one position
type PositionResult struct {
	PositionID      string            `json:"position_id"`
	TotalVotes      int               `json:"total_votes"`
	AbstentionCount int               `json:"abstention_count"`
	Candidates      []CandidateResult `json:"candidates"`
	Winners         []string          `json:"winners"`
	IsTie           bool              `json:"is_tie"`
	MaxWinners      int               `json:"max_winners"`
}

// ResultSnapshot is the stored tally of an election, one row per election.
type ResultSnapshot struct {
	ElectionID     string           `json:"election_id"`
	Status         ResultStatus     `json:"status"`
	Positions      []PositionResult `json:"positions"`
	ResultsVersion int64            `json:"results_version"`
	CalculatedAt   time.Time        `json:"calculated_at"`
	PromotedBy     string           `json:"promoted_by,omitempty"`
	PromotedAt     *time.Time       `json:"promoted_at,omitempty"`
}

// Position returns the tally for positionID.
func (s *ResultSnapshot) Position(positionID string) (PositionResult, bool) {
	for _, p := range s.Positions {
		if p.PositionID == positionID {
			return p, true
		}
	}
	return PositionResult{}, false
}

// Tally counts votes per position. Positions come out in election order and
// candidates by vote count descending, ties broken by ascending candidate id.
func Tally(e *Election, votes []Vote, at time.Time) *ResultSnapshot {
	type bucket struct {
		counts      map[string]int
		abstentions int
		total       int
	}
	buckets := make(map[string]*bucket, len(e.Positions))
	for _, p := range e.Positions {
		b := &bucket{counts: make(map[string]int, len(p.Candidates))}
		for _, c := range p.Candidates {
			b.counts[c.ID] = 0
		}
		buckets[p.ID] = b
	}

	for _, v := range votes {
		if v.ElectionID != e.ID || !v.Status.Counts() {
			continue
		}
		b, ok := buckets[v.PositionID]
		if !ok {
			continue
		}
		b.total++
		if v.IsAbstention || v.CandidateID == "" {
			b.abstentions++
			continue
		}
		b.counts[v.CandidateID]++
	}

	positions := make([]Position, len(e.Positions))
	copy(positions, e.Positions)
	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].SortOrder != positions[j].SortOrder {
			return positions[i].SortOrder < positions[j].SortOrder
		}
		return positions[i].ID < positions[j].ID
	})

	snapshot := &ResultSnapshot{
		ElectionID:     e.ID,
		Status:         ResultProvisional,
		ResultsVersion: e.ResultsVersion,
		CalculatedAt:   at,
		Positions:      make([]PositionResult, 0, len(positions)),
	}
	for _, p := range positions {
		snapshot.Positions = append(snapshot.Positions, tallyPosition(p, buckets[p.ID].counts, buckets[p.ID].abstentions, buckets[p.ID].total))
	}
	return snapshot
}

func tallyPosition(p Position, counts map[string]int, abstentions, total int) PositionResult {
	maxWinners := p.MaxWinners
	if maxWinners < 1 {
		maxWinners = 1
	}

	candidates := make([]CandidateResult, 0, len(counts))
	for id, n := range counts {
		candidates = append(candidates, CandidateResult{
			CandidateID: id,
			VoteCount:   n,
			Percentage:  Percentage(n, total),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].VoteCount != candidates[j].VoteCount {
			return candidates[i].VoteCount > candidates[j].VoteCount
		}
		return candidates[i].CandidateID < candidates[j].CandidateID
	})
	for i := range candidates {
		if i > 0 && candidates[i].VoteCount == candidates[i-1].VoteCount {
			candidates[i].Rank = candidates[i-1].Rank
		} else {
			candidates[i].Rank = i + 1
		}
	}

	winners := make([]string, 0, maxWinners)
	for i := 0; i < len(candidates) && len(winners) < maxWinners; i++ {
		if candidates[i].VoteCount == 0 {
			break
		}
		winners = append(winners, candidates[i].CandidateID)
	}

	isTie := false
	if len(candidates) > maxWinners {
		boundary := candidates[maxWinners-1]
		next := candidates[maxWinners]
		isTie = boundary.VoteCount > 0 && boundary.VoteCount == next.VoteCount
	}

	return PositionResult{
		PositionID:      p.ID,
		TotalVotes:      total,
		AbstentionCount: abstentions,
		Candidates:      candidates,
		Winners:         winners,
		IsTie:           isTie,
		MaxWinners:      maxWinners,
	}
}

// Percentage is round(part/total*100, 2), 0 when total is 0.
func Percentage(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}
