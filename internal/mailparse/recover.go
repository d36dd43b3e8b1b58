package mailparse

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// Fallback charsets tried in order when the declared charset produced
// replacement characters.
var fallbackEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"gbk", simplifiedchinese.GBK},
	{"gb18030", simplifiedchinese.GB18030},
	{"big5", traditionalchinese.Big5},
	{"shift_jis", japanese.ShiftJIS},
	{"euc-kr", korean.EUCKR},
	{"windows-1252", charmap.Windows1252},
}

// RecoverText salvages a mojibake body. When neither decoded string
// carries U+FFFD it returns the inputs untouched (no I/O). Otherwise it
// re-derives the original body octets from the raw message, tries the
// fallback charsets strictly and keeps the first decode that also looks
// readable. The returned charset name is "" when nothing was recovered.
func RecoverText(raw []byte, text, html string) (string, string, string) {
	textGarbled := strings.ContainsRune(text, utf8.RuneError)
	htmlGarbled := strings.ContainsRune(html, utf8.RuneError)
	if !textGarbled && !htmlGarbled {
		return text, html, ""
	}

	body, ok := extractBodyBytes(raw)
	if !ok || len(body) == 0 {
		return text, html, ""
	}

	for _, candidate := range fallbackEncodings {
		decoded, ok := decodeStrict(candidate.enc, body)
		if !ok || !looksReadable(decoded) {
			continue
		}
		if textGarbled {
			text = decoded
		}
		if htmlGarbled {
			html = decoded
		}
		return text, html, candidate.name
	}
	return text, html, ""
}

// decodeStrict decodes with the candidate charset, rejecting the attempt
// when the decoder had to substitute replacement characters.
func decodeStrict(enc encoding.Encoding, body []byte) (string, bool) {
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", false
	}
	decoded := string(out)
	if strings.ContainsRune(decoded, utf8.RuneError) {
		return "", false
	}
	return decoded, true
}

// looksReadable checks that, over a prefix of up to 200 characters, more
// than 60% fall into ASCII printable, CJK ideograph, CJK punctuation,
// fullwidth or newline ranges.
func looksReadable(s string) bool {
	total := 0
	good := 0
	for _, r := range s {
		if total >= 200 {
			break
		}
		total++
		switch {
		case r >= 0x20 && r <= 0x7E,
			r == '\n' || r == '\r',
			r >= 0x4E00 && r <= 0x9FFF,
			r >= 0x3000 && r <= 0x303F,
			r >= 0xFF00 && r <= 0xFFEF:
			good++
		}
	}
	if total == 0 {
		return false
	}
	return float64(good)/float64(total) > 0.6
}

// extractBodyBytes walks the raw message structure looking for the first
// text/plain leaf, falling back to the first text/html leaf, and undoes
// its Content-Transfer-Encoding back to raw octets.
func extractBodyBytes(raw []byte) ([]byte, bool) {
	if body, ok := findLeaf(raw, "text/plain", 0); ok {
		return body, true
	}
	return findLeaf(raw, "text/html", 0)
}

func findLeaf(part []byte, target string, depth int) ([]byte, bool) {
	if depth > 8 {
		return nil, false
	}

	header, body := splitPart(part)
	ct := partContentType(part)

	if strings.HasPrefix(ct, "multipart/") {
		m := boundaryRe.FindSubmatch(header)
		if m == nil {
			return nil, false
		}
		delim := []byte("--" + string(m[1]))
		chunks := bytes.Split(body, delim)
		for i := 1; i < len(chunks); i++ {
			if bytes.HasPrefix(chunks[i], []byte("--")) {
				continue
			}
			if found, ok := findLeaf(chunks[i], target, depth+1); ok {
				return found, true
			}
		}
		return nil, false
	}

	// A missing content type defaults to text/plain.
	if ct != target && !(ct == "" && target == "text/plain") {
		return nil, false
	}
	return decodeTransferEncoding(header, body), true
}

func splitPart(part []byte) (header, body []byte) {
	end := headerEnd(part)
	if end < 0 {
		return part, nil
	}
	sep := 4
	if part[end] == '\n' {
		sep = 2
	}
	return part[:end], part[end+sep:]
}

// decodeTransferEncoding undoes base64 or quoted-printable framing;
// other encodings pass the octets through as-is.
func decodeTransferEncoding(header, body []byte) []byte {
	cte := strings.ToLower(headerValue(header, "content-transfer-encoding"))
	switch cte {
	case "base64":
		compact := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, string(body))
		decoded, err := base64.StdEncoding.DecodeString(compact)
		if err != nil {
			if decoded, err = base64.RawStdEncoding.DecodeString(compact); err != nil {
				return nil
			}
		}
		return decoded
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
		if err != nil && len(decoded) == 0 {
			return nil
		}
		return bytes.TrimSuffix(decoded, []byte("\r\n"))
	default:
		return bytes.TrimSuffix(body, []byte("\r\n"))
	}
}

func headerValue(header []byte, name string) string {
	for _, line := range bytes.Split(header, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		lower := strings.ToLower(string(line))
		if value, ok := strings.CutPrefix(lower, name+":"); ok {
			if semi := strings.IndexByte(value, ';'); semi >= 0 {
				value = value[:semi]
			}
			return strings.TrimSpace(value)
		}
	}
	return ""
}
