// Package collab adapts the collaborators the realtime service depends on but
// does not own: the access-token verifier, the follower graph and chat
// conversation membership.
//
// Import Path: bazaar.dev/realtime/internal/collab
package collab
