package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/iliyamo/cohort-pools/internal/apperr"
	"github.com/iliyamo/cohort-pools/internal/model"
	"github.com/iliyamo/cohort-pools/internal/queue"
	"github.com/iliyamo/cohort-pools/internal/ratelimit"
	"github.com/iliyamo/cohort-pools/internal/repository"
)

// Expiry warnings go out for conversations expiring inside this window.
const (
	warnFrom = 90 * time.Minute
	warnTo   = 120 * time.Minute
)

// Conversations manages the lifecycle of the chat opened for each match.
type Conversations struct {
	d      Deps
	safety *Safety
	log    *slog.Logger
}

// ContinuationResult is returned by RequestContinuation.
type ContinuationResult struct {
	Status          string `json:"status"`
	WaitingForOther bool   `json:"waiting_for_other"`
}

// RequestContinuation records that userID wants to keep the conversation
// open.  Once both participants have asked, the conversation is marked
// continued and no longer expires.
func (c *Conversations) RequestContinuation(ctx context.Context, userID string, conversationID uint64) (ContinuationResult, error) {
	prof, err := c.d.Store.Profiles.Get(ctx, c.d.Store.DB, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return ContinuationResult{}, storeErr("load profile", err)
	}
	if err := c.safety.RequireBelow(ctx, prof, model.RestrictionBlocked, "requestContinuation"); err != nil {
		return ContinuationResult{}, err
	}
	conv, err := c.d.Store.Matches.GetConversation(ctx, c.d.Store.DB, conversationID)
	if err != nil {
		return ContinuationResult{}, storeErr("load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		c.safety.Record(ctx, userID, model.SafetyNotParticipant, model.SeverityMedium, map[string]any{
			"conversation_id": conversationID, "action": "requestContinuation",
		})
		return ContinuationResult{}, apperr.PermissionDenied("not a participant of this conversation")
	}
	if err := c.safety.Enforce(ctx, ratelimit.ContinueChat, userID, strconv.FormatUint(conversationID, 10)); err != nil {
		return ContinuationResult{}, err
	}
	other := conv.UserA
	if other == userID {
		other = conv.UserB
	}
	blocked, err := c.safety.IsBlocked(ctx, userID, other)
	if err != nil {
		return ContinuationResult{}, err
	}
	if blocked {
		c.safety.Record(ctx, userID, model.SafetyBlockedPairRejected, model.SeverityMedium, map[string]any{
			"conversation_id": conversationID, "other_user_id": other,
		})
		return ContinuationResult{}, apperr.PermissionDenied("user blocked")
	}

	var (
		out       ContinuationResult
		continued bool
	)
	err = c.d.Store.InTx(ctx, func(tx *sql.Tx) error {
		continued = false
		cur, err := c.d.Store.Matches.GetConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		now := c.d.now()
		switch {
		case cur.Status == model.ConversationContinued:
			out = ContinuationResult{Status: cur.Status.String()}
			return nil
		case cur.Status != model.ConversationActive:
			return apperr.PreconditionFailed("conversation cannot be continued")
		case cur.ExpiresAt != nil && !now.Before(*cur.ExpiresAt):
			return apperr.PreconditionFailed("conversation already expired")
		}
		prev := slices.Clone(cur.ContinuedBy)
		if !slices.Contains(cur.ContinuedBy, userID) {
			cur.ContinuedBy = append(cur.ContinuedBy, userID)
		}
		if cur.ContinuedByBoth() {
			cur.Status = model.ConversationContinued
			cur.ExpiresAt = nil
		}
		if err := c.d.Store.Matches.SaveContinuation(ctx, tx, cur, model.ConversationActive, prev, now); err != nil {
			return err
		}
		out = ContinuationResult{Status: cur.Status.String(), WaitingForOther: cur.Status == model.ConversationActive}
		continued = cur.Status == model.ConversationContinued
		return nil
	})
	if err != nil {
		return ContinuationResult{}, storeErr("continue conversation", err)
	}
	if continued {
		c.log.Info("conversation continued", "conversation_id", conversationID)
		c.notifyBoth(ctx, conv, queue.TypeChatContinued, "Chat Continued!", "Chat will no longer expire.")
	}
	return out, nil
}

// Get returns a conversation visible to userID.
func (c *Conversations) Get(ctx context.Context, userID string, conversationID uint64) (*model.Conversation, error) {
	conv, err := c.d.Store.Matches.GetConversation(ctx, c.d.Store.DB, conversationID)
	if err != nil {
		return nil, storeErr("load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.NotFound("load conversation: not found")
	}
	return conv, nil
}

// ExpireConversations marks active conversations past their expiry as
// expired, one batch per call, and tells both participants.
func (c *Conversations) ExpireConversations(ctx context.Context) (int, error) {
	now := c.d.now()
	due, err := c.d.Store.Matches.ListExpiredActive(ctx, c.d.Store.DB, now, c.d.Policy.SweepBatchSize)
	if err != nil {
		return 0, storeErr("list expired conversations", err)
	}
	n := 0
	for _, conv := range due {
		ok, err := c.d.Store.Matches.Expire(ctx, c.d.Store.DB, conv.ID, now)
		if err != nil {
			c.log.Error("expire conversation failed", "error", err, "conversation_id", conv.ID)
			continue
		}
		if !ok {
			continue
		}
		n++
		c.notifyBoth(ctx, conv, queue.TypeChatExpired, "Chat Expired", "Chat has expired.")
	}
	if n > 0 {
		c.log.Info("conversations expired", "count", n)
	}
	return n, nil
}

// SendExpiryWarnings tells participants of conversations that expire in
// roughly two hours.  Each conversation is warned at most once.
func (c *Conversations) SendExpiryWarnings(ctx context.Context) (int, error) {
	now := c.d.now()
	soon, err := c.d.Store.Matches.ListExpiringBetween(ctx, c.d.Store.DB, now.Add(warnFrom), now.Add(warnTo), c.d.Policy.SweepBatchSize)
	if err != nil {
		return 0, storeErr("list expiring conversations", err)
	}
	n := 0
	for _, conv := range soon {
		ok, err := c.d.Store.Matches.MarkWarned(ctx, c.d.Store.DB, conv.ID, now)
		if err != nil {
			c.log.Error("mark conversation warned failed", "error", err, "conversation_id", conv.ID)
			continue
		}
		if !ok {
			continue
		}
		n++
		c.notifyBoth(ctx, conv, queue.TypeChatExpiring, "Chat Expiring Soon", "Your chat will expire in about 2 hours. Continue talking!")
	}
	return n, nil
}

// ForceExpire expires a conversation on behalf of an admin regardless of
// its remaining time.
func (c *Conversations) ForceExpire(ctx context.Context, admin string, conversationID uint64, reason string) error {
	conv, err := c.d.Store.Matches.GetConversation(ctx, c.d.Store.DB, conversationID)
	if err != nil {
		return storeErr("load conversation", err)
	}
	if conv.Status == model.ConversationExpired {
		return nil
	}
	ok, err := c.d.Store.Matches.ForceExpire(ctx, c.d.Store.DB, conversationID, c.d.now())
	if err != nil {
		return storeErr("expire conversation", err)
	}
	if !ok {
		return nil
	}
	c.safety.Record(ctx, admin, model.SafetyAdminOverrideChat, model.SeverityHigh, map[string]any{
		"conversation_id": conversationID, "reason": reason,
	})
	c.log.Warn("conversation force expired", "conversation_id", conversationID, "admin", admin, "reason", reason)
	c.notifyBoth(ctx, conv, queue.TypeChatExpired, "Chat Expired", "Chat has expired.")
	return nil
}

// ListMatches returns the user's matches, newest first.
func (c *Conversations) ListMatches(ctx context.Context, userID string) ([]*model.Match, error) {
	out, err := c.d.Store.Matches.ListByUser(ctx, c.d.Store.DB, userID)
	if err != nil {
		return nil, storeErr("list matches", err)
	}
	return out, nil
}

func (c *Conversations) notifyBoth(ctx context.Context, conv *model.Conversation, typ, title, body string) {
	for _, u := range []string{conv.UserA, conv.UserB} {
		c.d.Notifier.Notify(ctx, queue.NotificationEvent{
			UserID:   u,
			Type:     typ,
			EntityID: strconv.FormatUint(conv.ID, 10),
			Title:    title,
			Body:     body,
		})
	}
}
