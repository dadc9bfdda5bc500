package gameroom

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/dicearena/backend/internal/metrics"
	"github.com/dicearena/backend/internal/protocol"
	"github.com/dicearena/backend/internal/scoring"
)

// cryptoShuffle performs an in-place Fisher-Yates shuffle seeded by a
// CSPRNG. It is uniform over all permutations (reject-on-bias is
// unnecessary here: rand.Int draws from a uniform distribution over
// [0, n) for each n, which is exactly what Fisher-Yates requires).
func cryptoShuffle(ids []string) {
	for i := len(ids) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			panic(err)
		}
		j := int(jBig.Int64())
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// rollDie returns a cryptographically-strong value in [1, DiceFaces].
func rollDie() int {
	n, err := rand.Int(rand.Reader, big.NewInt(protocol.DiceFaces))
	if err != nil {
		panic(err)
	}
	return int(n.Int64()) + 1
}

// beginTurn transitions into turn_roll for the player at playerOrder[idx],
// resetting per-turn fields. It only mutates gameState — callers persist
// the result and then call announceTurnStart, so a broadcast never
// precedes the write it describes.
func (r *Room) beginTurn(idx int) {
	r.state.CurrentPlayerIndex = idx
	r.state.Phase = protocol.PhaseTurnRoll

	p := r.currentPlayer()
	if p == nil {
		return
	}
	p.RollsRemaining = protocol.MaxRollsPerTurn
	p.CurrentDice = [protocol.DiceCount]int{}
	p.HasRolled = false
	p.KeptMask = 0
	now := time.Now().UTC()
	r.state.TurnStartedAt = &now
}

// announceTurnStart broadcasts TURN_STARTED for the current player and
// arms the AFK warning clock. Call only after the beginTurn mutation it
// describes has been persisted.
func (r *Room) announceTurnStart(ctx context.Context) {
	p := r.currentPlayer()
	if p == nil {
		return
	}
	r.broadcast(ctx, protocol.EventTurnStarted, protocol.TurnStartedEvent{
		UserID:         p.UserID,
		TurnNumber:     r.state.TurnNumber,
		RoundNumber:    r.state.RoundNumber,
		RollsRemaining: p.RollsRemaining,
	})
	r.alarm.schedule(ctx, obligationTurn, protocol.AlarmAfkWarning, r.cfg.AfkWarning, map[string]any{"userId": p.UserID})
}

// rollDice generates fresh dice for unmasked positions, keeping masked
// positions stable, and decrements RollsRemaining.
func (r *Room) rollDice(p *playerState, keptMask int) {
	for i := 0; i < protocol.DiceCount; i++ {
		if keptMask&(1<<i) != 0 {
			continue // keep stable value at this index
		}
		p.CurrentDice[i] = rollDie()
	}
	p.KeptMask = keptMask
	p.HasRolled = true
	p.RollsRemaining--
	p.LastActiveAt = time.Now().UTC()
}

// applyScore commits a category score, persists the result, and only
// then broadcasts it and whatever the score triggers next — the next
// turn starting, or the game ending with rankings. A persist failure
// aborts before any broadcast, leaving the command's caller to surface
// the error.
func (r *Room) applyScore(ctx context.Context, p *playerState, category protocol.ScoreCategory, score int, autoScored bool) error {
	p.Scorecard[category] = intPtr(score)
	p.TotalScore += score
	p.LastActiveAt = time.Now().UTC()

	r.alarm.cancel(ctx, obligationTurn)

	gameOver := r.allScorecardsFull()
	var rankings []protocol.Ranking
	if gameOver {
		rankings = r.finishGame()
	} else {
		r.advanceTurn()
	}

	if err := r.persist(ctx); err != nil {
		return err
	}

	r.broadcast(ctx, protocol.EventCategoryScored, protocol.CategoryScoredEvent{
		UserID:     p.UserID,
		Category:   category,
		Score:      score,
		TotalScore: p.TotalScore,
		AutoScored: autoScored,
	})

	if !autoScored && r.lobby != nil && scoring.IsPerfectScore(category, score) {
		msg := fmt.Sprintf("%s scored a perfect %s", p.DisplayName, category)
		r.enqueueRPC(func() {
			_ = r.lobby.PublishHighlight(ctx, r.code, msg)
		})
	}

	if gameOver {
		metrics.GamesCompleted.Inc()
		r.broadcast(ctx, protocol.EventGameOver, protocol.GameOverEvent{Rankings: rankings})
		return nil
	}

	r.announceTurnStart(ctx)
	return nil
}

func (r *Room) allScorecardsFull() bool {
	for _, p := range r.state.Players {
		if !protocol.IsComplete(p.Scorecard) {
			return false
		}
	}
	return true
}

// advanceTurn moves to the next player in playerOrder, incrementing
// turnNumber and, on wraparound, roundNumber. Mutation only; the caller
// persists and then announces the new turn.
func (r *Room) advanceTurn() {
	next := (r.state.CurrentPlayerIndex + 1) % len(r.state.PlayerOrder)
	r.state.TurnNumber++
	if next == 0 {
		r.state.RoundNumber++
	}
	r.beginTurn(next)
}

// finishGame transitions the room to game_over and computes rankings.
// Mutation only; the caller persists before broadcasting GAME_OVER with
// the returned rankings.
func (r *Room) finishGame() []protocol.Ranking {
	r.state.Phase = protocol.PhaseGameOver
	now := time.Now().UTC()
	r.state.GameCompletedAt = &now

	totals := make(map[string]int, len(r.state.Players))
	scorecards := make(map[string]map[protocol.ScoreCategory]*int, len(r.state.Players))
	for uid, p := range r.state.Players {
		totals[uid] = p.TotalScore
		scorecards[uid] = p.Scorecard
	}
	r.state.Rankings = scoring.RankPlayers(r.engine, r.state.PlayerOrder, totals, scorecards)
	return r.state.Rankings
}

func intPtr(v int) *int { return &v }
