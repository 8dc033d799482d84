package auth

// Denial reasons are enumerable so clients can show an actionable message
// rather than a bare "forbidden".
const (
	ReasonConversationNotFound = "conversation not found"
	ReasonNotAMember           = "not a member"
	ReasonMembershipInactive   = "membership inactive"
	ReasonMessagesDisabled     = "sending messages disabled for membership"
	ReasonNoShareLink          = "no active share link for session"
	ReasonLinkInactive         = "link inactive"
	ReasonLinkExpired          = "link expired"
	ReasonLinkQuotaExhausted   = "link quota exhausted"
	ReasonLinkMessagesDisabled = "anonymous messages not allowed on link"
	ReasonPermissionsRevoked   = "permissions revoked"
	ReasonUnknownSender        = "unknown sender"
)

// Denial is an expected authorization failure. It is a value, not a fault:
// callers switch on it and return it verbatim to the client.
type Denial struct {
	Reason string
}

func (d *Denial) Error() string {
	return "authorization denied: " + d.Reason
}

func Deny(reason string) *Denial {
	return &Denial{Reason: reason}
}
