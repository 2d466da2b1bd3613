package structs

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// Orientation matching is case-insensitive and symmetric: the merge path
// relies on exactly one of the two orientations matching whenever the player
// pair is the stored one.
func TestStream_MatchOrientationProperties(t *testing.T) {
	nickname := rapid.StringMatching(`[a-zA-Z0-9_]{1,16}`)

	rapid.Check(t, func(t *rapid.T) {
		creator := nickname.Draw(t, "creator")
		opponent := nickname.Draw(t, "opponent")
		if strings.EqualFold(creator, opponent) {
			t.Skip("players must differ")
		}

		s := &Stream{Creator: creator, Opponent: opponent}

		reversed, ok := s.MatchOrientation(strings.ToUpper(creator), strings.ToLower(opponent))
		if !ok || reversed {
			t.Fatalf("same-order pair did not match forward: reversed=%v ok=%v", reversed, ok)
		}

		reversed, ok = s.MatchOrientation(opponent, creator)
		if !ok || !reversed {
			t.Fatalf("swapped pair did not match reversed: reversed=%v ok=%v", reversed, ok)
		}

		stranger := nickname.Draw(t, "stranger")
		if strings.EqualFold(stranger, creator) || strings.EqualFold(stranger, opponent) {
			t.Skip("stranger collided with the pair")
		}
		if _, ok := s.MatchOrientation(creator, stranger); ok {
			t.Fatalf("pair with unknown opponent %q matched", stranger)
		}
		if _, ok := s.MatchOrientation(stranger, opponent); ok {
			t.Fatalf("pair with unknown creator %q matched", stranger)
		}
	})
}
