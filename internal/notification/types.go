// Package notification creates user notifications and routes them to the
// recipient: live over an open connection when the recipient is visibly
// online, otherwise as a queued push job.
//
// Every notification passes the recipient's preference gate before it is
// persisted. A gated notification is a silent skip: Create returns nil, nil.
//
// Import Path: bazaar.dev/realtime/internal/notification
package notification

import (
	"time"
)

// Type discriminates notifications. It selects the template and the
// per-type preference flag.
type Type string

// Notification types raised by the domain services.
const (
	TypeNewFollower    Type = "new_follower"
	TypePostLike       Type = "post_like"
	TypePostComment    Type = "post_comment"
	TypeCommentReply   Type = "comment_reply"
	TypeNewMessage     Type = "new_message"
	TypeThreadReply    Type = "thread_reply"
	TypeListingInquiry Type = "listing_inquiry"
)

// EventNotificationNew is the live-push event name.
const EventNotificationNew = "notification:new"

// Notification is a persisted notification row.
type Notification struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"recipientId"`
	Type        Type           `json:"type"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Data        map[string]any `json:"data"`
	SenderID    string         `json:"senderId,omitempty"`
	IsRead      bool           `json:"isRead"`
	ReadAt      *time.Time     `json:"readAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Payload is the input of Create. Explicit Title/Body win over the template.
type Payload struct {
	Type        Type           `json:"type"`
	RecipientID string         `json:"recipientId"`
	SenderID    string         `json:"senderId,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	Title       string         `json:"title,omitempty"`
	Body        string         `json:"body,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// CreateOptions switches off individual steps of Create.
type CreateOptions struct {
	SkipPreferenceCheck  bool
	SkipPushNotification bool
	SkipSocketEmit       bool
}

// PushPayload is the push-delivery job contract consumed by the push
// provider dispatcher.
type PushPayload struct {
	UserID string         `json:"userId"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data"`
}

// FindOptions filters and pages FindAll.
type FindOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
	Type       Type
}

// Page is one FindAll result.
type Page struct {
	Items   []*Notification `json:"items"`
	HasMore bool            `json:"hasMore"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// Preferences are a user's notification opt-ins. PushEnabled is the global
// channel; the remaining flags gate one Type each.
type Preferences struct {
	UserID         string    `json:"userId"`
	PushEnabled    bool      `json:"pushEnabled"`
	EmailEnabled   bool      `json:"emailEnabled"`
	NewFollower    bool      `json:"newFollower"`
	PostLike       bool      `json:"postLike"`
	PostComment    bool      `json:"postComment"`
	CommentReply   bool      `json:"commentReply"`
	NewMessage     bool      `json:"newMessage"`
	ThreadReply    bool      `json:"threadReply"`
	ListingInquiry bool      `json:"listingInquiry"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DefaultPreferences has every channel and type enabled.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:         userID,
		PushEnabled:    true,
		EmailEnabled:   true,
		NewFollower:    true,
		PostLike:       true,
		PostComment:    true,
		CommentReply:   true,
		NewMessage:     true,
		ThreadReply:    true,
		ListingInquiry: true,
	}
}

// Allows reports whether a notification of type t passes the gate. Types
// without a flag pass when the global channel is on.
func (p *Preferences) Allows(t Type) bool {
	if !p.PushEnabled {
		return false
	}
	switch t {
	case TypeNewFollower:
		return p.NewFollower
	case TypePostLike:
		return p.PostLike
	case TypePostComment:
		return p.PostComment
	case TypeCommentReply:
		return p.CommentReply
	case TypeNewMessage:
		return p.NewMessage
	case TypeThreadReply:
		return p.ThreadReply
	case TypeListingInquiry:
		return p.ListingInquiry
	default:
		return true
	}
}

// PreferencesUpdate is a partial update; nil fields are left unchanged.
type PreferencesUpdate struct {
	PushEnabled    *bool `json:"pushEnabled,omitempty"`
	EmailEnabled   *bool `json:"emailEnabled,omitempty"`
	NewFollower    *bool `json:"newFollower,omitempty"`
	PostLike       *bool `json:"postLike,omitempty"`
	PostComment    *bool `json:"postComment,omitempty"`
	CommentReply   *bool `json:"commentReply,omitempty"`
	NewMessage     *bool `json:"newMessage,omitempty"`
	ThreadReply    *bool `json:"threadReply,omitempty"`
	ListingInquiry *bool `json:"listingInquiry,omitempty"`
}

func (u PreferencesUpdate) apply(p *Preferences) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.PushEnabled, u.PushEnabled)
	set(&p.EmailEnabled, u.EmailEnabled)
	set(&p.NewFollower, u.NewFollower)
	set(&p.PostLike, u.PostLike)
	set(&p.PostComment, u.PostComment)
	set(&p.CommentReply, u.CommentReply)
	set(&p.NewMessage, u.NewMessage)
	set(&p.ThreadReply, u.ThreadReply)
	set(&p.ListingInquiry, u.ListingInquiry)
}
