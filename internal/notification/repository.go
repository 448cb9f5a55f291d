package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
)

// Repository is the durable store for notifications and preferences.
type Repository interface {
	Insert(ctx context.Context, n *Notification) error
	// List returns up to q.Limit rows, newest first.
	List(ctx context.Context, userID string, q FindOptions) ([]*Notification, error)
	// Get returns nil, nil when the row does not exist or id is not a UUID.
	Get(ctx context.Context, id string) (*Notification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, id string) error
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetPreferences returns nil, nil when the user has no row yet.
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)
	// CreatePreferences inserts p unless a row exists and returns the stored row.
	CreatePreferences(ctx context.Context, p *Preferences) (*Preferences, error)
	SavePreferences(ctx context.Context, p *Preferences) error
}

const (
	notificationsTable = "notifications"
	preferencesTable   = "notification_preferences"
)

var notificationColumns = []string{
	"id", "recipient_id", "type", "title", "body", "data",
	"sender_id", "is_read", "read_at", "created_at",
}

var preferenceColumns = []string{
	"user_id", "push_enabled", "email_enabled", "new_follower", "post_like", "post_comment",
	"comment_reply", "new_message", "thread_reply", "listing_inquiry", "updated_at",
}

// EntRepository implements Repository with ent's SQL builder. drv is an
// *entsql.Driver opened on the shared pool, or a dialect.Tx from it.
type EntRepository struct {
	drv dialect.ExecQuerier
	b   *entsql.DialectBuilder
}

// NewEntRepository creates an EntRepository.
func NewEntRepository(drv dialect.ExecQuerier) *EntRepository {
	return &EntRepository{drv: drv, b: entsql.Dialect(dialect.Postgres)}
}

var _ Repository = (*EntRepository)(nil)

func (r *EntRepository) exec(ctx context.Context, query string, args []any) (int64, error) {
	var res entsql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *EntRepository) queryNotifications(ctx context.Context, s *entsql.Selector) ([]*Notification, error) {
	query, args := s.Query()
	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func scanNotification(rows *entsql.Rows) (*Notification, error) {
	var (
		n        Notification
		typ      string
		data     []byte
		senderID entsql.NullString
	)
	if err := rows.Scan(&n.ID, &n.RecipientID, &typ, &n.Title, &n.Body, &data,
		&senderID, &n.IsRead, &n.ReadAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = Type(typ)
	n.SenderID = senderID.String
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode data of %s: %w", n.ID, err)
		}
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	return &n, nil
}

func nullable(s string) entsql.NullString {
	return entsql.NullString{String: s, Valid: s != ""}
}

// Insert stores a new notification.
func (r *EntRepository) Insert(ctx context.Context, n *Notification) error {
	data := n.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode data for %s: %w", n.RecipientID, err)
	}

	query, args := r.b.Insert(notificationsTable).
		Columns(notificationColumns...).
		Values(n.ID, n.RecipientID, string(n.Type), n.Title, n.Body, string(raw),
			nullable(n.SenderID), n.IsRead, n.ReadAt, n.CreatedAt).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		return fmt.Errorf("insert notification for %s: %w", n.RecipientID, err)
	}
	return nil
}

// List implements Repository.
func (r *EntRepository) List(ctx context.Context, userID string, q FindOptions) ([]*Notification, error) {
	preds := []*entsql.Predicate{entsql.EQ("recipient_id", userID)}
	if q.UnreadOnly {
		preds = append(preds, entsql.EQ("is_read", false))
	}
	if q.Type != "" {
		preds = append(preds, entsql.EQ("type", string(q.Type)))
	}

	s := r.b.Select(notificationColumns...).
		From(r.b.Table(notificationsTable)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(q.Limit).
		Offset(q.Offset)

	items, err := r.queryNotifications(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", userID, err)
	}
	return items, nil
}

// Get implements Repository.
func (r *EntRepository) Get(ctx context.Context, id string) (*Notification, error) {
	// Ids are UUIDs; anything else cannot match a row.
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	s := r.b.Select(notificationColumns...).
		From(r.b.Table(notificationsTable)).
		Where(entsql.EQ("id", id))

	items, err := r.queryNotifications(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// MarkRead implements Repository.
func (r *EntRepository) MarkRead(ctx context.Context, id string, at time.Time) error {
	query, args := r.b.Update(notificationsTable).
		Set("is_read", true).
		Set("read_at", at).
		Where(entsql.And(entsql.EQ("id", id), entsql.EQ("is_read", false))).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead implements Repository.
func (r *EntRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	query, args := r.b.Update(notificationsTable).
		Set("is_read", true).
		Set("read_at", at).
		Where(entsql.And(entsql.EQ("recipient_id", userID), entsql.EQ("is_read", false))).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		return 0, fmt.Errorf("mark all read for %s: %w", userID, err)
	}
	return n, nil
}

// CountUnread implements Repository.
func (r *EntRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	query, args := r.b.Select(entsql.Count("*")).
		From(r.b.Table(notificationsTable)).
		Where(entsql.And(entsql.EQ("recipient_id", userID), entsql.EQ("is_read", false))).
		Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", userID, err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("count unread for %s: %w", userID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", userID, err)
	}
	return n, nil
}

// Delete implements Repository.
func (r *EntRepository) Delete(ctx context.Context, id string) error {
	query, args := r.b.Delete(notificationsTable).Where(entsql.EQ("id", id)).Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	return nil
}

// DeleteReadBefore implements Repository. Unread rows are kept regardless of age.
func (r *EntRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args := r.b.Delete(notificationsTable).
		Where(entsql.And(entsql.EQ("is_read", true), entsql.LT("created_at", cutoff))).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// GetPreferences implements Repository.
func (r *EntRepository) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	query, args := r.b.Select(preferenceColumns...).
		From(r.b.Table(preferencesTable)).
		Where(entsql.EQ("user_id", userID)).
		Query()

	rows := &entsql.Rows{}
	if err := r.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("get preferences %s: %w", userID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get preferences %s: %w", userID, err)
		}
		return nil, nil
	}
	var p Preferences
	if err := rows.Scan(&p.UserID, &p.PushEnabled, &p.EmailEnabled, &p.NewFollower, &p.PostLike,
		&p.PostComment, &p.CommentReply, &p.NewMessage, &p.ThreadReply, &p.ListingInquiry, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan preferences %s: %w", userID, err)
	}
	return &p, nil
}

// CreatePreferences implements Repository. Concurrent first reads converge on
// a single row.
func (r *EntRepository) CreatePreferences(ctx context.Context, p *Preferences) (*Preferences, error) {
	query, args := r.b.Insert(preferencesTable).
		Columns(preferenceColumns...).
		Values(p.UserID, p.PushEnabled, p.EmailEnabled, p.NewFollower, p.PostLike, p.PostComment,
			p.CommentReply, p.NewMessage, p.ThreadReply, p.ListingInquiry, p.UpdatedAt).
		OnConflict(entsql.ConflictColumns("user_id"), entsql.DoNothing()).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		return nil, fmt.Errorf("create preferences %s: %w", p.UserID, err)
	}
	stored, err := r.GetPreferences(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("create preferences %s: row missing after insert", p.UserID)
	}
	return stored, nil
}

// SavePreferences implements Repository.
func (r *EntRepository) SavePreferences(ctx context.Context, p *Preferences) error {
	query, args := r.b.Update(preferencesTable).
		Set("push_enabled", p.PushEnabled).
		Set("email_enabled", p.EmailEnabled).
		Set("new_follower", p.NewFollower).
		Set("post_like", p.PostLike).
		Set("post_comment", p.PostComment).
		Set("comment_reply", p.CommentReply).
		Set("new_message", p.NewMessage).
		Set("thread_reply", p.ThreadReply).
		Set("listing_inquiry", p.ListingInquiry).
		Set("updated_at", p.UpdatedAt).
		Where(entsql.EQ("user_id", p.UserID)).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		return fmt.Errorf("save preferences %s: %w", p.UserID, err)
	}
	return nil
}
