package exam

import (
	"sort"
	"strings"
)

// RankMode selects how tied scores advance the next rank.
type RankMode string

const (
	// RankCompetition skips ranks after ties, like SQL RANK(): 90, 90, 70
	// rank 1, 1, 3.
	RankCompetition RankMode = "competition"
	// RankDense gives ties a shared rank and the next score the following
	// rank: 90, 90, 70 rank 1, 1, 2.
	RankDense RankMode = "dense"
)

// ParseRankMode returns the mode named by s, competition when unrecognised.
func ParseRankMode(s string) RankMode {
	if RankMode(strings.ToLower(strings.TrimSpace(s))) == RankDense {
		return RankDense
	}
	return RankCompetition
}

// Rank ranks scores from highest to lowest. ranks[i] belongs to scores[i].
func Rank(scores []float64, mode RankMode) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	ranks := make([]int, len(scores))
	dense := 0
	for pos, i := range order {
		if pos > 0 && scores[i] == scores[order[pos-1]] {
			ranks[i] = ranks[order[pos-1]]
			continue
		}
		dense++
		if mode == RankCompetition {
			ranks[i] = pos + 1
		} else {
			ranks[i] = dense
		}
	}
	return ranks
}
