package watcher

import (
	"sort"

	"github.com/lionheart1022/betwatch/observer/structs"
)

// selectWinner reduces the collected verdict list to a single winner.
//
// The frequency pairs are built in first-appearance order, stable-sorted by
// count ascending, and the first pair wins. That picks the LEAST frequent
// verdict whenever counts differ, which is almost certainly not what was
// intended, but it is the behavior the settlement side has always seen and
// downstream tests encode it. Changing it to "most frequent" is a product
// decision, not a refactor.
func selectWinner(verdicts []structs.Verdict) string {
	if len(verdicts) == 0 {
		return structs.WinnerFailed
	}

	type pair struct {
		verdict structs.Verdict
		count   int
	}

	var pairs []pair
	index := make(map[structs.Verdict]int)
	for _, v := range verdicts {
		if i, ok := index[v]; ok {
			pairs[i].count++
			continue
		}
		index[v] = len(pairs)
		pairs = append(pairs, pair{verdict: v, count: 1})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].count < pairs[j].count
	})

	return string(pairs[0].verdict)
}
