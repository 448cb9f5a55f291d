package notification

import (
	"context"
)

// The Notify helpers are the contract offered to the domain services. Each
// builds a typed payload and calls Create with default options.

// NotifyNewFollower tells a user that followerID started following them.
func (e *Engine) NotifyNewFollower(ctx context.Context, followerID, followerName, recipientID string) (*Notification, error) {
	return e.Create(ctx, Payload{
		Type:        TypeNewFollower,
		RecipientID: recipientID,
		SenderID:    followerID,
		Variables:   map[string]any{"followerName": followerName},
		Data:        map[string]any{"followerId": followerID},
	}, CreateOptions{})
}

// NotifyPostLike tells a post author about a like. Liking your own post
// notifies nobody.
func (e *Engine) NotifyPostLike(ctx context.Context, likerID, likerName, recipientID, postID string) (*Notification, error) {
	if likerID == recipientID {
		return nil, nil
	}
	return e.Create(ctx, Payload{
		Type:        TypePostLike,
		RecipientID: recipientID,
		SenderID:    likerID,
		Variables:   map[string]any{"likerName": likerName},
		Data:        map[string]any{"postId": postID},
	}, CreateOptions{})
}

// NotifyPostComment tells a post author about a new top-level comment.
func (e *Engine) NotifyPostComment(ctx context.Context, commenterID, commenterName, recipientID, postID, commentID, preview string) (*Notification, error) {
	if commenterID == recipientID {
		return nil, nil
	}
	return e.Create(ctx, Payload{
		Type:        TypePostComment,
		RecipientID: recipientID,
		SenderID:    commenterID,
		Variables:   map[string]any{"commenterName": commenterName, "preview": preview},
		Data:        map[string]any{"postId": postID, "commentId": commentID},
	}, CreateOptions{})
}

// NotifyCommentReply tells a comment author about a reply. commentID is the
// comment as stored by the post service, already flattened to its thread
// depth; it is passed through unchanged.
func (e *Engine) NotifyCommentReply(ctx context.Context, replierID, replierName, recipientID, postID, commentID, preview string) (*Notification, error) {
	if replierID == recipientID {
		return nil, nil
	}
	return e.Create(ctx, Payload{
		Type:        TypeCommentReply,
		RecipientID: recipientID,
		SenderID:    replierID,
		Variables:   map[string]any{"replierName": replierName, "preview": preview},
		Data:        map[string]any{"postId": postID, "commentId": commentID},
	}, CreateOptions{})
}

// NotifyNewMessage tells a conversation participant about a chat message.
func (e *Engine) NotifyNewMessage(ctx context.Context, senderID, senderName, recipientID, conversationID, preview string) (*Notification, error) {
	return e.Create(ctx, Payload{
		Type:        TypeNewMessage,
		RecipientID: recipientID,
		SenderID:    senderID,
		Variables:   map[string]any{"senderName": senderName, "preview": preview},
		Data:        map[string]any{"conversationId": conversationID},
	}, CreateOptions{})
}

// NotifyThreadReply tells a forum thread author about a reply.
func (e *Engine) NotifyThreadReply(ctx context.Context, replierID, replierName, recipientID, threadID, threadTitle, preview string) (*Notification, error) {
	return e.Create(ctx, Payload{
		Type:        TypeThreadReply,
		RecipientID: recipientID,
		SenderID:    replierID,
		Variables:   map[string]any{"replierName": replierName, "threadTitle": threadTitle, "preview": preview},
		Data:        map[string]any{"threadId": threadID},
	}, CreateOptions{})
}

// NotifyListingInquiry tells a seller that someone asked about a listing.
func (e *Engine) NotifyListingInquiry(ctx context.Context, inquirerID, inquirerName, recipientID, listingID, listingTitle, preview string) (*Notification, error) {
	return e.Create(ctx, Payload{
		Type:        TypeListingInquiry,
		RecipientID: recipientID,
		SenderID:    inquirerID,
		Variables:   map[string]any{"inquirerName": inquirerName, "listingTitle": listingTitle, "preview": preview},
		Data:        map[string]any{"listingId": listingID},
	}, CreateOptions{})
}
