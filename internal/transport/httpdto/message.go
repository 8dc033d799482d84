package httpdto

// AttachmentRequest mirrors one attachment accompanying a send.
type AttachmentRequest struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

type SendMessageRequest struct {
	ConversationID   string              `json:"conversation_id"`
	Content          string              `json:"content"`
	OriginalLanguage string              `json:"original_language,omitempty"`
	Type             string              `json:"type,omitempty"`
	ReplyToID        string              `json:"reply_to_id,omitempty"`
	Attachments      []AttachmentRequest `json:"attachments,omitempty"`
	DisplayName      string              `json:"display_name,omitempty"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}
