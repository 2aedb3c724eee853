package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage posts a chat message to the session's channel.
	CommandSendMessage CommandKind = iota
	// CommandMarkRead marks a persisted message as read.
	CommandMarkRead
	// CommandHeartbeat refreshes the user's presence.
	CommandHeartbeat
)

// Command represents an action requested by a client.
type Command struct {
	Kind      CommandKind
	Content   string
	MessageID int64
}
