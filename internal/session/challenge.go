package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/park285/cheese-lichess-bot/internal/lichess"
	"github.com/park285/cheese-lichess-bot/internal/obslog"
)

const declineReasonVariant = "variant"

// ChallengeResponder accepts incoming challenges and records the challenger
// for the next game's color resolution.
type ChallengeResponder struct {
	sess          *Context
	actions       ChallengeActions
	acceptVariant func(key string) bool
}

// NewChallengeResponder builds a responder. A nil acceptVariant accepts every variant.
func NewChallengeResponder(sess *Context, actions ChallengeActions, acceptVariant func(key string) bool) *ChallengeResponder {
	if sess == nil {
		sess = NewContext()
	}
	return &ChallengeResponder{sess: sess, actions: actions, acceptVariant: acceptVariant}
}

// Respond issues exactly one accept or decline. Failures are returned, never retried.
func (r *ChallengeResponder) Respond(ctx context.Context, ch lichess.Challenge) error {
	variant := ch.Variant.Key
	if variant == "" {
		variant = "standard"
	}
	challenger := ch.Challenger.Username()
	fields := []zap.Field{
		zap.String("challenge_id", ch.ID),
		zap.String("challenger", challenger),
		zap.String("time_control", ch.TimeControl.Describe()),
		zap.String("variant", variant),
		zap.Bool("rated", ch.Rated),
	}

	if r.acceptVariant != nil && !r.acceptVariant(variant) {
		if err := r.actions.DeclineChallenge(ctx, ch.ID, declineReasonVariant); err != nil {
			return fmt.Errorf("decline challenge %s: %w", ch.ID, err)
		}
		obslog.L().Info("challenge_decline", append(fields, zap.String("reason", declineReasonVariant))...)
		return nil
	}

	if challenger != "" {
		r.sess.SetOpponent(challenger)
	} else {
		// A stale name from an earlier challenge would misassign colors.
		r.sess.Clear()
		obslog.L().Warn("challenge_without_challenger", fields...)
	}

	if err := r.actions.AcceptChallenge(ctx, ch.ID); err != nil {
		return fmt.Errorf("accept challenge %s: %w", ch.ID, err)
	}
	obslog.L().Info("challenge_accept", fields...)
	return nil
}
