package handlers

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/lionheart1022/betwatch/ci"
	"github.com/lionheart1022/betwatch/helper/testlog"
	"github.com/lionheart1022/betwatch/observer/structs"
)

func TestHandler_CommandLine(t *testing.T) {
	ci.Parallel(t)

	h := &Handler{
		Gametype: "fifa15-xboxone",
		Env:      ". ./venv/bin/activate",
		Command:  "exec python3 fifastreamer.py {handle}",
	}
	must.Eq(t, ". ./venv/bin/activate; exec python3 fifastreamer.py pewpew",
		h.CommandLine("pewpew"))

	bare := &Handler{Gametype: "echo", Command: "echo {handle}"}
	must.Eq(t, "echo pewpew", bare.CommandLine("pewpew"))
}

func TestHandler_Defaults(t *testing.T) {
	ci.Parallel(t)

	h := &Handler{Gametype: "echo", Command: "true", Parser: EchoParser{}}
	must.Eq(t, 5, h.EffectiveQuorum())
	must.Eq(t, 10*time.Second, h.EffectiveWindow())
	must.Eq(t, 30*time.Second, h.EffectiveWaitDelay())
	must.Eq(t, 12, h.MaxRetries())

	h.Quorum = 2
	h.WaitDelay = time.Minute
	must.Eq(t, 2, h.EffectiveQuorum())
	must.Eq(t, 6, h.MaxRetries())
}

func TestRegistry(t *testing.T) {
	ci.Parallel(t)

	r, err := NewRegistry(Builtin(testlog.HCLogger(t))...)
	must.NoError(t, err)

	must.NotNil(t, r.Lookup("fifa15-xboxone"))
	must.NotNil(t, r.Lookup("FIFA15-XBOXONE"))
	must.Nil(t, r.Lookup("chess"))

	must.NoError(t, r.Register(EchoHandler()))
	must.NotNil(t, r.Lookup("echo"))
	must.Len(t, 3, r.Gametypes())

	must.Error(t, r.Register(&Handler{Gametype: "", Command: "true", Parser: EchoParser{}}))
	must.Error(t, r.Register(&Handler{Gametype: "x", Parser: EchoParser{}}))
	must.Error(t, r.Register(&Handler{Gametype: "x", Command: "true"}))
}

func TestNewParser(t *testing.T) {
	ci.Parallel(t)

	logger := testlog.HCLogger(t)

	p, err := NewParser("eafootball", logger)
	must.NoError(t, err)
	must.NotNil(t, p)

	p, err = NewParser("echo", logger)
	must.NoError(t, err)
	must.NotNil(t, p)

	_, err = NewParser("starcraft", logger)
	must.ErrorContains(t, err, "unknown parser family")
}

func TestEAFootballParser(t *testing.T) {
	ci.Parallel(t)

	p := NewEAFootballParser(testlog.HCLogger(t))

	cases := []struct {
		name   string
		line   string
		expect structs.Verdict
	}{
		{"offline", "2015-03-01 12:00:01 Stream is offline", structs.VerdictOffline},
		{"unrecognized", "Impossible to recognize who won", structs.VerdictNone},
		{"noise", "loading frame 1022", structs.VerdictNone},
		{"creator wins", "Players:\talice\tbob\tScore: 2-1", structs.VerdictCreator},
		{"opponent wins", "Players:\talice\tbob\tScore: 0-3", structs.VerdictOpponent},
		{"draw", "Players:\talice\tbob\tScore: 1-1", structs.VerdictDraw},
		{"case folded", "Players:\tALICE\tBOB\tScore: 4-0", structs.VerdictCreator},
		{"reversed sides", "Players:\tbob\talice\tScore: 2-0", structs.VerdictOpponent},
		{"one side known", "Players:\tzzz\tbob\tScore: 2-0", structs.VerdictCreator},
		{"score missing", "Players:\talice\tbob", structs.VerdictNone},
		{"players missing", "Score: 2-1", structs.VerdictNone},
		{"garbage score", "Players:\talice\tbob\tScore: x-y", structs.VerdictNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			must.Eq(t, tc.expect, p.Parse(tc.line, "Alice", "Bob"))
		})
	}
}

func TestEAFootballParser_UnknownPlayersAssumeOrder(t *testing.T) {
	ci.Parallel(t)

	p := NewEAFootballParser(testlog.HCLogger(t))

	// Neither nickname matches; parsed side one is assumed to be the
	// creator.
	must.Eq(t, structs.VerdictCreator,
		p.Parse("Players:\tzzz\tqqq\tScore: 3-1", "Alice", "Bob"))
	must.Eq(t, structs.VerdictOpponent,
		p.Parse("Players:\tzzz\tqqq\tScore: 1-3", "Alice", "Bob"))
}

func TestEchoParser(t *testing.T) {
	ci.Parallel(t)

	p := EchoParser{}
	must.Eq(t, structs.VerdictCreator, p.Parse("creator", "a", "b"))
	must.Eq(t, structs.VerdictOpponent, p.Parse(" Opponent ", "a", "b"))
	must.Eq(t, structs.VerdictDraw, p.Parse("draw", "a", "b"))
	must.Eq(t, structs.VerdictOffline, p.Parse("offline", "a", "b"))
	must.Eq(t, structs.VerdictNone, p.Parse("hello", "a", "b"))
}
