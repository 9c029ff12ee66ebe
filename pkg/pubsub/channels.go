package pubsub

// Channel carrying room broadcasts between gateway instances.
const ChannelRoomBroadcast = "chat:rooms:broadcast"

// Event types relayed between gateway instances.
const (
	EventChatMessage = "chat_message"
	EventTyping      = "typing"
)

// BroadcastPayload is the payload of a relayed room broadcast. Frame holds
// the already-encoded outbound frame; ExcludeConn names a connection that
// must not receive it.
type BroadcastPayload struct {
	Frame       []byte `json:"frame"`
	ExcludeConn string `json:"exclude_conn,omitempty"`
}
