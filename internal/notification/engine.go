package notification

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "bazaar.dev/realtime/internal/pkg/errors"
	"bazaar.dev/realtime/internal/pkg/logger"
)

// PresenceChecker answers whether a recipient can take a live push.
type PresenceChecker interface {
	IsUserVisiblyOnline(ctx context.Context, userID string) (bool, error)
}

// LiveEmitter pushes an event to every device of a user.
type LiveEmitter interface {
	EmitToUser(ctx context.Context, userID, event string, data any) error
}

// PushEnqueuer hands a push payload to the delivery queue.
type PushEnqueuer interface {
	AddPushJob(ctx context.Context, payload PushPayload) error
}

// Options tunes an Engine.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	Now             func() time.Time
}

// Engine is the notification service used by the domain services.
type Engine struct {
	repo     Repository
	cache    UnreadCache
	presence PresenceChecker
	live     LiveEmitter
	push     PushEnqueuer
	opts     Options
}

// NewEngine creates an Engine. push may be nil, in which case offline
// recipients get no push job.
func NewEngine(repo Repository, cache UnreadCache, presence PresenceChecker, live LiveEmitter, push PushEnqueuer, opts Options) *Engine {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = max(100, opts.DefaultPageSize)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		repo:     repo,
		cache:    cache,
		presence: presence,
		live:     live,
		push:     push,
		opts:     opts,
	}
}

// validatePayload reports every missing required field at once.
func validatePayload(p Payload) error {
	var fields []apperrors.FieldError
	if p.RecipientID == "" {
		fields = append(fields, apperrors.FieldError{
			Field: "recipientId", Code: apperrors.CodeValidationFailed, Message: "recipient is required",
		})
	}
	if p.Type == "" {
		fields = append(fields, apperrors.FieldError{
			Field: "type", Code: apperrors.CodeValidationFailed, Message: "notification type is required",
		})
	}
	if len(fields) == 0 {
		return nil
	}
	return apperrors.ErrValidationf(fields[0].Field, fields[0].Message).WithFieldErrors(fields)
}

// Create gates, renders, persists and delivers one notification. It returns
// nil, nil when the recipient's preferences reject it.
func (e *Engine) Create(ctx context.Context, p Payload, opts CreateOptions) (*Notification, error) {
	if err := validatePayload(p); err != nil {
		return nil, err
	}

	if !opts.SkipPreferenceCheck {
		prefs, err := e.GetPreferences(ctx, p.RecipientID)
		if err != nil {
			return nil, err
		}
		if !prefs.Allows(p.Type) {
			logger.Debug("Notification skipped by preferences",
				zap.String("user_id", p.RecipientID),
				zap.String("type", string(p.Type)),
			)
			return nil, nil
		}
	}

	title, body := resolveContent(p)
	data := map[string]any{}
	maps.Copy(data, p.Data)

	n := &Notification{
		ID:          uuid.NewString(),
		RecipientID: p.RecipientID,
		Type:        p.Type,
		Title:       title,
		Body:        body,
		Data:        data,
		SenderID:    p.SenderID,
		CreatedAt:   e.opts.Now().UTC(),
	}
	if err := e.repo.Insert(ctx, n); err != nil {
		return nil, err
	}
	e.invalidate(ctx, n.RecipientID)

	logger.Debug("Notification created",
		zap.String("notification_id", n.ID),
		zap.String("user_id", n.RecipientID),
		zap.String("type", string(n.Type)),
	)

	if !opts.SkipSocketEmit {
		e.deliver(ctx, n, opts.SkipPushNotification)
	}
	return n, nil
}

// deliver live-pushes to a visibly online recipient or queues a push job.
// Failures are logged: the row is already committed.
func (e *Engine) deliver(ctx context.Context, n *Notification, skipPush bool) {
	online, err := e.presence.IsUserVisiblyOnline(ctx, n.RecipientID)
	if err != nil {
		logger.Warn("Presence check failed, treating recipient as offline",
			zap.String("user_id", n.RecipientID),
			zap.Error(err),
		)
		online = false
	}

	if online {
		if err := e.live.EmitToUser(ctx, n.RecipientID, EventNotificationNew, n); err != nil {
			logger.Warn("Live push failed",
				zap.String("notification_id", n.ID),
				zap.String("user_id", n.RecipientID),
				zap.Error(err),
			)
		}
		return
	}

	if skipPush || e.push == nil {
		return
	}
	if err := e.push.AddPushJob(ctx, PushPayloadFor(n)); err != nil {
		logger.Error("Push job enqueue failed",
			zap.String("notification_id", n.ID),
			zap.String("user_id", n.RecipientID),
			zap.Error(err),
		)
	}
}

// PushPayloadFor builds the push job payload for a persisted notification.
// notificationId and type always reflect the row, even if the payload data
// carried keys of the same name.
func PushPayloadFor(n *Notification) PushPayload {
	data := make(map[string]any, len(n.Data)+2)
	maps.Copy(data, n.Data)
	data["notificationId"] = n.ID
	data["type"] = string(n.Type)
	return PushPayload{
		UserID: n.RecipientID,
		Title:  n.Title,
		Body:   n.Body,
		Data:   data,
	}
}

// IsRecipientOnline reports visible presence. Lookup errors count as offline.
func (e *Engine) IsRecipientOnline(ctx context.Context, userID string) bool {
	online, err := e.presence.IsUserVisiblyOnline(ctx, userID)
	if err != nil {
		logger.Warn("Presence check failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return online
}

func (e *Engine) invalidate(ctx context.Context, userID string) {
	if err := e.cache.Invalidate(ctx, userID); err != nil {
		logger.Warn("Unread cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// FindAll pages a user's notifications, newest first. It fetches one extra
// row to learn HasMore without a count query.
func (e *Engine) FindAll(ctx context.Context, userID string, q FindOptions) (*Page, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = e.opts.DefaultPageSize
	}
	if limit > e.opts.MaxPageSize {
		limit = e.opts.MaxPageSize
	}
	offset := max(q.Offset, 0)

	fetch := q
	fetch.Limit, fetch.Offset = limit+1, offset
	items, err := e.repo.List(ctx, userID, fetch)
	if err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	return &Page{Items: items, HasMore: hasMore, Limit: limit, Offset: offset}, nil
}

// FindOne returns a notification owned by userID.
func (e *Engine) FindOne(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil || n.RecipientID != userID {
		return nil, apperrors.ErrNotificationNotFoundf(id)
	}
	return n, nil
}

func (e *Engine) loadOwned(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, apperrors.ErrNotificationNotFoundf(id)
	}
	if n.RecipientID != userID {
		return nil, apperrors.ErrNotificationForbiddenf(id)
	}
	return n, nil
}

// MarkAsRead flips one notification to read. Already-read rows are returned
// without a write.
func (e *Engine) MarkAsRead(ctx context.Context, id, userID string) (*Notification, error) {
	n, err := e.loadOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.IsRead {
		return n, nil
	}

	now := e.opts.Now().UTC()
	if err := e.repo.MarkRead(ctx, id, now); err != nil {
		return nil, err
	}
	n.IsRead, n.ReadAt = true, &now
	e.invalidate(ctx, userID)
	return n, nil
}

// MarkAllAsRead flips every unread notification of a user and returns how
// many changed.
func (e *Engine) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	n, err := e.repo.MarkAllRead(ctx, userID, e.opts.Now().UTC())
	if err != nil {
		return 0, err
	}
	e.invalidate(ctx, userID)
	return n, nil
}

// GetUnreadCount reads through the unread cache.
func (e *Engine) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	n, ok, err := e.cache.Get(ctx, userID)
	if err != nil {
		logger.Warn("Unread cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	if err == nil && ok {
		return n, nil
	}

	n, err = e.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := e.cache.Set(ctx, userID, n); err != nil {
		logger.Debug("Unread cache fill failed", zap.String("user_id", userID), zap.Error(err))
	}
	return n, nil
}

// GetPreferences returns the user's preferences, creating defaults on first
// read.
func (e *Engine) GetPreferences(ctx context.Context, userID string) (*Preferences, error) {
	p, err := e.repo.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	defaults := DefaultPreferences(userID)
	defaults.UpdatedAt = e.opts.Now().UTC()
	return e.repo.CreatePreferences(ctx, defaults)
}

// UpdatePreferences merges a partial update into the stored preferences.
func (e *Engine) UpdatePreferences(ctx context.Context, userID string, u PreferencesUpdate) (*Preferences, error) {
	p, err := e.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.apply(p)
	p.UpdatedAt = e.opts.Now().UTC()
	if err := e.repo.SavePreferences(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a notification owned by userID.
func (e *Engine) Delete(ctx context.Context, id, userID string) error {
	n, err := e.loadOwned(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	if !n.IsRead {
		e.invalidate(ctx, userID)
	}
	return nil
}

// DeleteOld removes read notifications older than the retention window.
func (e *Engine) DeleteOld(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d days", olderThanDays)
	}
	cutoff := e.opts.Now().UTC().AddDate(0, 0, -olderThanDays)
	n, err := e.repo.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("Old notifications deleted",
			zap.Int64("count", n),
			zap.Int("older_than_days", olderThanDays),
		)
	}
	return n, nil
}
