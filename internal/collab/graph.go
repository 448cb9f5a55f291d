package collab

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FollowerGraph reads the social graph owned by the social service.
type FollowerGraph struct {
	db DBTX
}

// NewFollowerGraph creates a FollowerGraph.
func NewFollowerGraph(db DBTX) *FollowerGraph {
	return &FollowerGraph{db: db}
}

// FollowersOf returns the ids of users following userID.
func (g *FollowerGraph) FollowersOf(ctx context.Context, userID string) ([]string, error) {
	rows, err := g.db.Query(ctx,
		`SELECT follower_id FROM follows WHERE following_id = $1 ORDER BY follower_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("query followers of %s: %w", userID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan followers of %s: %w", userID, err)
	}
	return ids, nil
}

// ConversationMembership reads chat participants owned by the chat service.
type ConversationMembership struct {
	db DBTX
}

// NewConversationMembership creates a ConversationMembership.
func NewConversationMembership(db DBTX) *ConversationMembership {
	return &ConversationMembership{db: db}
}

// IsParticipant reports whether userID belongs to the conversation.
func (m *ConversationMembership) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var ok bool
	err := m.db.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM conversation_participants
    WHERE conversation_id = $1 AND user_id = $2
)`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check participant %s in %s: %w", userID, conversationID, err)
	}
	return ok, nil
}
