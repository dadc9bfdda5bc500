// Package scoring defines the interface boundary to the dice-evaluation
// math library. The spec treats scoring rules as an external collaborator
// (its interface is a contract, not something this repo owns); Standard is
// a reference implementation satisfying that contract so the rest of the
// system has something concrete to run against and test with.
package scoring

import (
	"errors"

	"github.com/dicearena/backend/internal/protocol"
)

// ErrInvalidCategory is returned by Engine.Score when asked to score dice
// against a category it doesn't recognize.
var ErrInvalidCategory = errors.New("invalid scoring category")

// Engine computes the score a given dice hand would earn in a category,
// independent of any particular player's scorecard history.
type Engine interface {
	// Score returns the point value of dice in category. dice must have
	// length protocol.DiceCount, values in [1, protocol.DiceFaces].
	Score(category protocol.ScoreCategory, dice [protocol.DiceCount]int) (int, error)

	// Categories returns the fixed, ordered set of categories this engine
	// supports.
	Categories() []protocol.ScoreCategory

	// IsBonusCategory reports whether category may be scored more than
	// once under bonus rules (e.g. a second Yahtzee), given the player's
	// current scorecard. The GameRoom consults this before rejecting a
	// SCORE_CATEGORY on an already-scored category.
	IsBonusCategory(category protocol.ScoreCategory, scorecard map[protocol.ScoreCategory]*int) bool
}
