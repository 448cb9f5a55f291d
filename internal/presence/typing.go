package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/pkg/logger"
)

// SetTyping writes or clears the user's typing entry for a conversation.
// Each write refreshes the key TTL.
func (r *Registry) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	key := typingKey(conversationID)
	if !isTyping {
		if err := r.rdb.HDel(ctx, key, userID).Err(); err != nil {
			return fmt.Errorf("clear typing %s/%s: %w", conversationID, userID, err)
		}
		return nil
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, userID, r.opts.Now().UnixMilli())
	pipe.Expire(ctx, key, r.opts.TypingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set typing %s/%s: %w", conversationID, userID, err)
	}
	return nil
}

// GetTypingUsers returns users typing in a conversation. Entries older than
// the typing TTL are filtered out and removed even if the key has not expired.
func (r *Registry) GetTypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	key := typingKey(conversationID)
	entries, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read typing %s: %w", conversationID, err)
	}

	cutoff := r.opts.Now().Add(-r.opts.TypingTTL).UnixMilli()
	users := make([]string, 0, len(entries))
	var stale []string
	for userID, raw := range entries {
		startedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || startedAt < cutoff {
			stale = append(stale, userID)
			continue
		}
		users = append(users, userID)
	}

	if len(stale) > 0 {
		if err := r.rdb.HDel(ctx, key, stale...).Err(); err != nil {
			logger.Debug("Stale typing cleanup failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}

	sort.Strings(users)
	return users, nil
}
