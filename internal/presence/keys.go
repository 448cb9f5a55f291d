package presence

const onlineSetKey = "presence:online"

func socketKey(socketID string) string     { return "presence:socket:" + socketID }
func userSocketsKey(userID string) string  { return "presence:user:" + userID + ":sockets" }
func userKey(userID string) string         { return "presence:user:" + userID }
func instanceKey(instanceID string) string { return "presence:instance:" + instanceID }
func typingKey(conversationID string) string {
	return "typing:" + conversationID
}

// Fields of the per-user hash.
const (
	fieldLastSeen      = "last_seen"
	fieldAppearOffline = "appear_offline"
)

// Fields of the per-socket hash.
const (
	fieldUser        = "user"
	fieldInstance    = "instance"
	fieldConnectedAt = "connected_at"
)
