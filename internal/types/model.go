package types

// ImageRef describes one stored image attachment belonging to an entry.
type ImageRef struct {
	Index      int    `json:"index"`
	Size       int64  `json:"size"`
	TTLSeconds int64  `json:"ttlSeconds"`
	Filename   string `json:"filename,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
}

// Entry is the archive record for one ingested message. The ID is the
// message id assigned by the notification channel on delivery and is
// immutable once set.
type Entry struct {
	ID        string     `json:"id"`
	Timestamp int64      `json:"timestamp"` // epoch milliseconds
	Starred   bool       `json:"starred"`
	TextSize  int64      `json:"textSize"`
	Images    []ImageRef `json:"images,omitempty"`
	Sender    string     `json:"sender,omitempty"`
	Subject   string     `json:"subject,omitempty"`
}

// Size returns the entry's total contribution to archive usage.
func (e Entry) Size() int64 {
	total := e.TextSize
	for _, img := range e.Images {
		total += img.Size
	}
	return total
}

// Index is the whole-snapshot archive index. TotalSize must always equal
// the sum of every entry's text size plus its image sizes.
type Index struct {
	Entries   []Entry `json:"entries"`
	TotalSize int64   `json:"totalSize"`
}
