// Package realtime fans board events out to WebSocket connections. Each board
// has a room; connections join and leave rooms on request and leave all of
// them on disconnect. A global presence list of online user ids is pushed to
// every connection whenever it changes.
//
// Delivery is at-most-once. Nothing is queued for connections that are not
// in the room at emit time, and a connection whose send buffer is full loses
// the message.
package realtime

import "encoding/json"

const (
	EventOnlineUsers     = "online-users"
	EventUserJoined      = "user:joined"
	EventUserLeft        = "user:left"
	EventColumnCreated   = "column:created"
	EventColumnUpdated   = "column:updated"
	EventColumnDeleted   = "column:deleted"
	EventColumnsReorder  = "columns:reordered"
	EventCardCreated     = "card:created"
	EventCardUpdated     = "card:updated"
	EventCardDeleted     = "card:deleted"
	EventCardMoved       = "card:moved"
	EventCardsReorder    = "cards:reordered"
	EventBoardUpdated    = "board:updated"
	EventBoardDeleted    = "board:deleted"
	EventMemberAdded     = "member:added"
	EventMemberRemoved   = "member:removed"
	EventActivityUpdated = "activity:updated"
	EventNotificationNew = "notification:new"
	EventPong            = "pong"
	EventError           = "error"
)

// Client message types.
const (
	MessageJoinBoard  = "join-board"
	MessageLeaveBoard = "leave-board"
	MessagePing       = "ping"
)

// Envelope is the frame sent to clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientMessage is a frame received from a client.
type ClientMessage struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId,omitempty"`
}

// RoomMember is the payload of user:joined and user:left.
type RoomMember struct {
	UserID  string `json:"userId"`
	BoardID string `json:"boardId"`
}

// Emitter publishes events. Emission never fails the caller; transport
// problems are logged by the implementation.
type Emitter interface {
	EmitToRoom(room, event string, data any)
	EmitToUser(userID, event string, data any)
	EmitGlobal(event string, data any)
}

func RoomForBoard(boardID string) string {
	return "board:" + boardID
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Type: event, Data: data})
}

// Discard drops every event.
type Discard struct{}

func (Discard) EmitToRoom(string, string, any) {}
func (Discard) EmitToUser(string, string, any) {}
func (Discard) EmitGlobal(string, any)         {}
