package scoring

import (
	"sort"

	"github.com/dicearena/backend/internal/protocol"
)

// Standard is the conventional Yahtzee-style scoring table. It holds no
// state and is safe for concurrent use by every GameRoom.
type Standard struct{}

// NewStandard constructs the reference scoring engine.
func NewStandard() *Standard { return &Standard{} }

func (Standard) Categories() []protocol.ScoreCategory {
	return append([]protocol.ScoreCategory(nil), protocol.AllCategories...)
}

func counts(dice [protocol.DiceCount]int) [protocol.DiceFaces + 1]int {
	var c [protocol.DiceFaces + 1]int
	for _, d := range dice {
		if d >= 1 && d <= protocol.DiceFaces {
			c[d]++
		}
	}
	return c
}

func sum(dice [protocol.DiceCount]int) int {
	total := 0
	for _, d := range dice {
		total += d
	}
	return total
}

func (s Standard) Score(category protocol.ScoreCategory, dice [protocol.DiceCount]int) (int, error) {
	c := counts(dice)

	switch category {
	case protocol.CategoryOnes:
		return 1 * c[1], nil
	case protocol.CategoryTwos:
		return 2 * c[2], nil
	case protocol.CategoryThrees:
		return 3 * c[3], nil
	case protocol.CategoryFours:
		return 4 * c[4], nil
	case protocol.CategoryFives:
		return 5 * c[5], nil
	case protocol.CategorySixes:
		return 6 * c[6], nil
	case protocol.CategoryThreeOfAKind:
		if hasCountAtLeast(c, 3) {
			return sum(dice), nil
		}
		return 0, nil
	case protocol.CategoryFourOfAKind:
		if hasCountAtLeast(c, 4) {
			return sum(dice), nil
		}
		return 0, nil
	case protocol.CategoryFullHouse:
		if isFullHouse(c) {
			return 25, nil
		}
		return 0, nil
	case protocol.CategorySmallStraight:
		if hasStraight(c, 4) {
			return 30, nil
		}
		return 0, nil
	case protocol.CategoryLargeStraight:
		if hasStraight(c, 5) {
			return 40, nil
		}
		return 0, nil
	case protocol.CategoryChance:
		return sum(dice), nil
	case protocol.CategoryYahtzee:
		if hasCountAtLeast(c, 5) {
			return 50, nil
		}
		return 0, nil
	default:
		return 0, ErrInvalidCategory
	}
}

// IsBonusCategory allows re-scoring Yahtzee when the player already scored
// a non-zero Yahtzee and rolls a second one; every other category may only
// be scored once, matching the GameRoom's "scorecard[cat] transitions
// null → number only" invariant.
func (s Standard) IsBonusCategory(category protocol.ScoreCategory, scorecard map[protocol.ScoreCategory]*int) bool {
	if category != protocol.CategoryYahtzee {
		return false
	}
	existing, ok := scorecard[protocol.CategoryYahtzee]
	return ok && existing != nil && *existing > 0
}

func hasCountAtLeast(c [protocol.DiceFaces + 1]int, n int) bool {
	for face := 1; face <= protocol.DiceFaces; face++ {
		if c[face] >= n {
			return true
		}
	}
	return false
}

func isFullHouse(c [protocol.DiceFaces + 1]int) bool {
	hasThree, hasTwo := false, false
	for face := 1; face <= protocol.DiceFaces; face++ {
		switch c[face] {
		case 3:
			hasThree = true
		case 2:
			hasTwo = true
		case 5:
			// Five of a kind also satisfies full house under common house
			// rules; treat it as qualifying.
			return true
		}
	}
	return hasThree && hasTwo
}

func hasStraight(c [protocol.DiceFaces + 1]int, length int) bool {
	run := 0
	for face := 1; face <= protocol.DiceFaces; face++ {
		if c[face] > 0 {
			run++
			if run >= length {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// PerfectCategoryCount reports how many categories a scorecard scored at
// that category's maximum possible value; used for the rankings tie-break
// (primary totalScore desc, secondary perfect-category count desc).
func PerfectCategoryCount(engine Engine, scorecard map[protocol.ScoreCategory]*int) int {
	perfects := 0
	for cat, score := range scorecard {
		if score == nil {
			continue
		}
		if *score > 0 && *score == maxPossible(cat) {
			perfects++
		}
	}
	return perfects
}

func maxPossible(cat protocol.ScoreCategory) int {
	switch cat {
	case protocol.CategoryOnes:
		return 5
	case protocol.CategoryTwos:
		return 10
	case protocol.CategoryThrees:
		return 15
	case protocol.CategoryFours:
		return 20
	case protocol.CategoryFives:
		return 25
	case protocol.CategorySixes:
		return 30
	case protocol.CategoryThreeOfAKind, protocol.CategoryFourOfAKind, protocol.CategoryChance:
		return 30
	case protocol.CategoryFullHouse:
		return 25
	case protocol.CategorySmallStraight:
		return 30
	case protocol.CategoryLargeStraight:
		return 40
	case protocol.CategoryYahtzee:
		return 50
	default:
		return 0
	}
}

// IsPerfectScore reports whether score is the maximum possible value for
// cat — the threshold for cross-room highlights and the ranking
// tie-break's "perfect category" notion.
func IsPerfectScore(cat protocol.ScoreCategory, score int) bool {
	return score > 0 && score == maxPossible(cat)
}

// RankPlayers orders players by the spec's tie-break: primary totalScore
// desc, secondary perfect-category count desc, remaining ties share rank.
func RankPlayers(engine Engine, userIDs []string, totals map[string]int, scorecards map[string]map[protocol.ScoreCategory]*int) []protocol.Ranking {
	type scored struct {
		userID   string
		total    int
		perfects int
	}
	all := make([]scored, 0, len(userIDs))
	for _, uid := range userIDs {
		all = append(all, scored{
			userID:   uid,
			total:    totals[uid],
			perfects: PerfectCategoryCount(engine, scorecards[uid]),
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].total != all[j].total {
			return all[i].total > all[j].total
		}
		return all[i].perfects > all[j].perfects
	})

	rankings := make([]protocol.Ranking, len(all))
	rank := 1
	for i, s := range all {
		if i > 0 && s.total == all[i-1].total && s.perfects == all[i-1].perfects {
			rankings[i] = protocol.Ranking{UserID: s.userID, Rank: rankings[i-1].Rank, Score: s.total, Perfects: s.perfects}
			continue
		}
		rank = i + 1
		rankings[i] = protocol.Ranking{UserID: s.userID, Rank: rank, Score: s.total, Perfects: s.perfects}
	}
	return rankings
}
