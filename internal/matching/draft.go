// Package matching implements the pairing draft run once per pool.  It is
// pure: callers load candidates, pass a random source, and persist the
// returned pairs themselves.
package matching

import (
	"math"
	"math/rand/v2"
	"sort"
	"strings"
)

// TargetMatches is the baseline number of matches every member is
// offered when the population allows.
const TargetMatches = 5

// QualityFloor is the score below which a pair is only accepted while
// one side still has fewer than MinMatches matches.
const (
	QualityFloor = 10.0
	MinMatches   = 2
)

// Candidate is one active member as seen by the draft.
type Candidate struct {
	UserID    string
	Name      string
	Age       int
	Interests []string
}

// Pair is an accepted pairing.
type Pair struct {
	Male   Candidate
	Female Candidate
	Score  float64
}

// Score rates how compatible two candidates are: up to five points for
// closeness in age plus ten points per shared interest.
func Score(a, b Candidate) float64 {
	diff := a.Age - b.Age
	if diff < 0 {
		diff = -diff
	}
	age := math.Max(0, float64(10-diff)*0.5)
	return age + float64(sharedInterests(a.Interests, b.Interests))*10
}

// sharedInterests counts the entries of a that also appear in b,
// ignoring case.  Repeats in a each count.
func sharedInterests(a, b []string) int {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = struct{}{}
		}
	}
	n := 0
	for _, v := range a {
		if _, ok := set[strings.ToLower(strings.TrimSpace(v))]; ok {
			n++
		}
	}
	return n
}

// Quotas returns the per-member match caps for each side and the number
// of rounds to run.  The minority side gets a wider quota under skew.
func Quotas(males, females int) (quotaM, quotaF, rounds int) {
	if males == 0 || females == 0 {
		return 0, 0, 0
	}
	ratioM := (females + males - 1) / males
	ratioF := (males + females - 1) / females
	quotaM = max(ratioM, TargetMatches)
	quotaF = max(ratioF, TargetMatches)
	return quotaM, quotaF, max(quotaM, quotaF)
}

type ranked struct {
	female int
	score  float64
}

// Draft pairs males with females.  Each male ranks every female once by
// descending score; every round shuffles the males and lets each one
// under quota take the best remaining female who is under quota, not
// already paired with him, and either scores at least QualityFloor or
// has a side still short of MinMatches.  An empty side yields no pairs.
func Draft(males, females []Candidate, rng *rand.Rand) []Pair {
	quotaM, quotaF, rounds := Quotas(len(males), len(females))
	if rounds == 0 {
		return nil
	}

	rankings := make([][]ranked, len(males))
	for i, m := range males {
		list := make([]ranked, len(females))
		for j, f := range females {
			list[j] = ranked{female: j, score: Score(m, f)}
		}
		sort.SliceStable(list, func(a, b int) bool { return list[a].score > list[b].score })
		rankings[i] = list
	}

	countM := make([]int, len(males))
	countF := make([]int, len(females))
	paired := make(map[[2]int]bool)
	order := make([]int, len(males))
	for i := range order {
		order[i] = i
	}

	var pairs []Pair
	for r := 0; r < rounds; r++ {
		rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		for _, mi := range order {
			if countM[mi] >= quotaM {
				continue
			}
			for _, c := range rankings[mi] {
				fi := c.female
				if countF[fi] >= quotaF || paired[[2]int{mi, fi}] {
					continue
				}
				if c.score < QualityFloor && countM[mi] >= MinMatches && countF[fi] >= MinMatches {
					continue
				}
				paired[[2]int{mi, fi}] = true
				countM[mi]++
				countF[fi]++
				pairs = append(pairs, Pair{Male: males[mi], Female: females[fi], Score: c.score})
				break
			}
		}
	}
	return pairs
}
