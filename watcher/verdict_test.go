package watcher

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/lionheart1022/betwatch/ci"
	"github.com/lionheart1022/betwatch/observer/structs"
)

func TestSelectWinner(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name     string
		verdicts []structs.Verdict
		expect   string
	}{
		{"empty", nil, structs.WinnerFailed},
		{"single", []structs.Verdict{structs.VerdictCreator}, structs.WinnerCreator},
		{
			"unanimous",
			[]structs.Verdict{structs.VerdictDraw, structs.VerdictDraw, structs.VerdictDraw},
			structs.WinnerDraw,
		},
		{
			// Ascending sort by count: the least frequent verdict
			// wins. Bug-compatible with the original resolver.
			"least frequent wins",
			[]structs.Verdict{
				structs.VerdictCreator, structs.VerdictCreator,
				structs.VerdictCreator, structs.VerdictOpponent,
			},
			structs.WinnerOpponent,
		},
		{
			"tie keeps first appearance order",
			[]structs.Verdict{
				structs.VerdictDraw, structs.VerdictCreator,
				structs.VerdictCreator, structs.VerdictDraw,
			},
			structs.WinnerDraw,
		},
		{
			"synthetic failure",
			[]structs.Verdict{structs.VerdictFailed},
			structs.WinnerFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			must.Eq(t, tc.expect, selectWinner(tc.verdicts))
		})
	}
}
