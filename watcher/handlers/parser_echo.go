package handlers

import (
	"strings"

	"github.com/lionheart1022/betwatch/observer/structs"
)

// EchoParser treats each line that spells a verdict token as that verdict.
// It backs the dev-mode echo gametype and lets integration tests drive the
// supervisor with plain shell commands.
type EchoParser struct{}

func (EchoParser) Parse(line, _, _ string) structs.Verdict {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "creator":
		return structs.VerdictCreator
	case "opponent":
		return structs.VerdictOpponent
	case "draw":
		return structs.VerdictDraw
	case "offline":
		return structs.VerdictOffline
	}
	return structs.VerdictNone
}

// EchoHandler returns a handler for the echo gametype whose subprocess just
// prints its verdict lines with the system echo.
func EchoHandler() *Handler {
	return &Handler{
		Gametype: "echo",
		Command:  "echo creator; echo creator; echo creator; echo creator; echo creator",
		Twitch:   TwitchMandatory,
		Parser:   EchoParser{},
	}
}
