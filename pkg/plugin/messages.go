package plugin

import (
	"errors"

	"github.com/ideamans/plugingate/pkg/shared/logging"
)

var (
	// ErrPollTimeout is reported when the user has not finished logging in
	// within the poller's MaxDuration.
	ErrPollTimeout = errors.New("plugin: authentication timed out")

	// ErrPollNetwork is reported when a status request fails.
	ErrPollNetwork = errors.New("plugin: session status request failed")

	// ErrLogoutPartial is reported when the local credential could not be
	// cleared on logout.
	ErrLogoutPartial = errors.New("plugin: credential not cleared")
)

// userMessages is the text the UI shows for each failure.
var userMessages = map[error]string{
	ErrPollTimeout:   "Authentication timeout. Please try again.",
	ErrPollNetwork:   "Network error. Please check your connection and try again.",
	ErrLogoutPartial: "Failed to logout. Please try again.",
}

// UserMessage returns the UI text for err.
func UserMessage(err error) string {
	for target, msg := range userMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// MessageType names a message crossing the UI boundary.
type MessageType string

// From the UI.
const (
	MsgStartPolling MessageType = "startPolling"
	MsgCheckAuth    MessageType = "checkAuth"
	MsgLogout       MessageType = "logout"
)

// To the UI.
const (
	MsgLoginSuccess     MessageType = "loginSuccess"
	MsgLoginError       MessageType = "loginError"
	MsgAuthStateChanged MessageType = "authStateChanged"
	MsgLogoutError      MessageType = "logoutError"
)

// Message is a one-way message between the UI and the core.
type Message struct {
	Type          MessageType `json:"type"`
	SessionID     string      `json:"sessionId,omitempty"`
	Authenticated bool        `json:"authenticated"`
	UserProfile   *Profile    `json:"userProfile,omitempty"`
	MaskedToken   string      `json:"maskedToken,omitempty"` // checkAuth reply only
	Error         string      `json:"error,omitempty"`
}

func loginError(err error) Message {
	return Message{Type: MsgLoginError, Error: UserMessage(err)}
}

// Notifier delivers messages to the UI. Notify must not block.
type Notifier interface {
	Notify(Message)
}

// ChannelNotifier sends on a buffered channel and drops messages the UI is
// not draining.
type ChannelNotifier struct {
	ch     chan Message
	logger logging.Logger
}

func NewChannelNotifier(buffer int, logger logging.Logger) *ChannelNotifier {
	return &ChannelNotifier{ch: make(chan Message, buffer), logger: logger.WithModule("notifier")}
}

func (n *ChannelNotifier) Notify(m Message) {
	select {
	case n.ch <- m:
	default:
		n.logger.Warn("Dropping message, UI is not listening", "type", m.Type)
	}
}

// C is the receiving end for the UI.
func (n *ChannelNotifier) C() <-chan Message {
	return n.ch
}
