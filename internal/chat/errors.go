package chat

import "errors"

// Validation errors are reported back to the originating session as a scoped
// 'error' event and abort the operation with no partial state change. None of
// them is ever fatal to the connection, let alone the process.
var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrNotParticipant  = errors.New("you are not a participant of this chat")
	ErrAdminsOnly      = errors.New("only admins can send messages in this chat")
	ErrBlockedPeer     = errors.New("you have blocked this user")
	ErrBlockedByPeer   = errors.New("you are blocked by this user")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotSender       = errors.New("only the sender can do this")
	ErrNotEditable     = errors.New("only text messages can be edited")
	ErrMessageDeleted  = errors.New("message was deleted")
	ErrNotAllowed      = errors.New("not allowed")
	ErrUnknownCall     = errors.New("unknown call")
	ErrNotCallMember   = errors.New("you are not in this call")
	ErrNotHost         = errors.New("only the host can end the call")
	ErrBadPayload      = errors.New("malformed payload")
	ErrEmptyMessage    = errors.New("message has no content")
)

var clientErrors = []error{
	ErrChatNotFound, ErrNotParticipant, ErrAdminsOnly,
	ErrBlockedPeer, ErrBlockedByPeer,
	ErrMessageNotFound, ErrNotSender, ErrNotEditable, ErrMessageDeleted,
	ErrNotAllowed, ErrUnknownCall, ErrNotCallMember, ErrNotHost,
	ErrBadPayload, ErrEmptyMessage,
}

// publicMessage maps an error onto the text that may be shown to a client.
// Anything unexpected (storage failures etc.) is masked.
func publicMessage(err error) string {
	for _, known := range clientErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
