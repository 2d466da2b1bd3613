package handlers

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/hashicorp/go-hclog"

	"github.com/lionheart1022/betwatch/observer/structs"
)

// EAFootballParser parses the output of the EA football capture scripts.
// Verdict-bearing lines look like
//
//	Players:<TAB>nickone<TAB>nicktwo<TAB>Score: 2-1
//
// with "Stream is offline" and "Impossible to recognize who won" as the two
// recognized failure shapes.
type EAFootballParser struct {
	logger hclog.Logger
}

func NewEAFootballParser(logger hclog.Logger) *EAFootballParser {
	return &EAFootballParser{logger: logger.Named("eafootball")}
}

func (p *EAFootballParser) Parse(line, creator, opponent string) structs.Verdict {
	switch {
	case strings.Contains(line, "Stream is offline"):
		return structs.VerdictOffline
	case strings.Contains(line, "Impossible to recognize who won"):
		return structs.VerdictNone
	case strings.Contains(line, "Score:"):
		return p.parseScore(line, creator, opponent)
	}
	return structs.VerdictNone
}

// parseScore extracts the two nicknames and the two scores and maps the
// higher-score side onto creator or opponent.
func (p *EAFootballParser) parseScore(line, creator, opponent string) structs.Verdict {
	nickOne, nickTwo, ok := parsePlayers(line)
	if !ok {
		return structs.VerdictNone
	}
	scoreOne, scoreTwo, ok := parseScores(line)
	if !ok {
		return structs.VerdictNone
	}

	if scoreOne == scoreTwo {
		return structs.VerdictDraw
	}

	creator = strings.ToLower(creator)
	opponent = strings.ToLower(opponent)

	// Decide which parsed side is the creator. If both nicknames are
	// foreign, assume the parsed order matches the stored order; if only
	// one matches, the other side is inferred.
	var oneIsCreator bool
	switch {
	case nickOne == creator, nickTwo == opponent:
		oneIsCreator = true
	case nickOne == opponent, nickTwo == creator:
		oneIsCreator = false
	default:
		p.logger.Warn("parsed nicknames match neither player, assuming stored order",
			"parsed_one", nickOne, "parsed_two", nickTwo,
			"creator", creator, "opponent", opponent)
		oneIsCreator = true
	}

	oneWon := scoreOne > scoreTwo
	if oneWon == oneIsCreator {
		return structs.VerdictCreator
	}
	return structs.VerdictOpponent
}

// parsePlayers pulls the two tab-separated nicknames following "Players:",
// lower-cased.
func parsePlayers(line string) (one, two string, ok bool) {
	idx := strings.Index(line, "Players:")
	if idx < 0 {
		return "", "", false
	}
	rest := line[idx+len("Players:"):]
	if end := strings.Index(rest, "Score:"); end >= 0 {
		rest = rest[:end]
	}

	var nicks []string
	for _, field := range strings.Split(rest, "\t") {
		field = strings.TrimSpace(field)
		if field != "" {
			nicks = append(nicks, strings.ToLower(field))
		}
	}
	if len(nicks) < 2 {
		return "", "", false
	}
	return nicks[0], nicks[1], true
}

// parseScores finds the first "a-b" token after "Score:" whose first
// character is a digit.
func parseScores(line string) (one, two int, ok bool) {
	idx := strings.Index(line, "Score:")
	if idx < 0 {
		return 0, 0, false
	}
	rest := line[idx+len("Score:"):]

	for _, field := range strings.Fields(rest) {
		if field == "" || !unicode.IsDigit(rune(field[0])) {
			continue
		}
		parts := strings.SplitN(field, "-", 2)
		if len(parts) != 2 {
			continue
		}
		a, errA := strconv.Atoi(parts[0])
		b, errB := strconv.Atoi(strings.TrimFunc(parts[1], func(r rune) bool {
			return !unicode.IsDigit(r)
		}))
		if errA != nil || errB != nil {
			continue
		}
		return a, b, true
	}
	return 0, 0, false
}
