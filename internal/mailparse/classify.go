package mailparse

import "strings"

// Action is the storage decision for one attachment.
type Action int

const (
	// ActionSkip drops attachments with no payload.
	ActionSkip Action = iota
	// ActionIgnore drops tracking pixels silently.
	ActionIgnore
	// ActionListOnly reports an oversized attachment without storing it.
	ActionListOnly
	// ActionSendPhoto delivers and archives the attachment as a photo.
	ActionSendPhoto
	// ActionSendDocument delivers the attachment as a document.
	ActionSendDocument
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionIgnore:
		return "ignore"
	case ActionListOnly:
		return "listOnly"
	case ActionSendPhoto:
		return "sendPhoto"
	case ActionSendDocument:
		return "sendDocument"
	default:
		return "unknown"
	}
}

// Classification is the result of the attachment decision table.
type Classification struct {
	Action Action
	Size   int64
	Mime   string
}

// Classify decides how one attachment is handled. Inline or related
// images strictly below trackingPixelThreshold are treated as tracking
// pixels; a threshold of 0 disables that rule. Attachments above
// maxAttachmentSize are listed in the notification but never stored.
func Classify(att Attachment, maxAttachmentSize, trackingPixelThreshold int64) Classification {
	size := att.PayloadSize()
	mime := strings.ToLower(att.MimeType)
	c := Classification{Size: size, Mime: mime}

	isImage := strings.HasPrefix(mime, "image/")

	switch {
	case size == 0:
		c.Action = ActionSkip
	case isImage && (att.Inline || att.Related) && size < trackingPixelThreshold:
		c.Action = ActionIgnore
	case size > maxAttachmentSize:
		c.Action = ActionListOnly
	case mime == "image/gif" || !isImage:
		c.Action = ActionSendDocument
	default:
		c.Action = ActionSendPhoto
	}
	return c
}
