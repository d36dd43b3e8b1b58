package mailparse

import (
	"bytes"
	"regexp"
	"strings"
)

// Placeholder replaces binary part bodies in the stripped artifact.
const Placeholder = "[binary content removed]"

var boundaryRe = regexp.MustCompile(`(?i)boundary="?([^";\r\n]+)"?`)

// Strip produces a reduced copy of a raw MIME message: every top-level
// part whose content type is not text/* or multipart/* keeps its headers
// but has its body replaced by Placeholder. Text and nested multipart
// parts are preserved byte for byte, so the artifact stays parseable by
// any MIME reader. Single-part messages are returned unchanged.
func Strip(raw []byte) []byte {
	boundary := topBoundary(raw)
	if boundary == "" {
		return raw
	}
	delim := []byte("--" + boundary)
	if !bytes.Contains(raw, delim) {
		return raw
	}

	parts := bytes.Split(raw, delim)
	// parts[0] is the top headers plus preamble and is always kept.
	for i := 1; i < len(parts); i++ {
		if bytes.HasPrefix(parts[i], []byte("--")) {
			// Closing delimiter tail.
			continue
		}
		ct := partContentType(parts[i])
		if strings.HasPrefix(ct, "text/") || strings.HasPrefix(ct, "multipart/") {
			continue
		}
		parts[i] = replacePartBody(parts[i])
	}
	return bytes.Join(parts, delim)
}

// topBoundary extracts the boundary parameter from the top-level header
// block only; nested parts declare their own boundaries, which must not
// be split on here.
func topBoundary(raw []byte) string {
	header := raw
	if end := headerEnd(raw); end >= 0 {
		header = raw[:end]
	}
	m := boundaryRe.FindSubmatch(header)
	if m == nil {
		return ""
	}
	return string(m[1])
}

func headerEnd(b []byte) int {
	if i := bytes.Index(b, []byte("\r\n\r\n")); i >= 0 {
		return i
	}
	return bytes.Index(b, []byte("\n\n"))
}

// partContentType returns the lowercased media type declared in a part's
// header lines, or "" when absent.
func partContentType(part []byte) string {
	header := part
	if end := headerEnd(part); end >= 0 {
		header = part[:end]
	}
	for _, line := range bytes.Split(header, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		lower := strings.ToLower(string(line))
		if value, ok := strings.CutPrefix(lower, "content-type:"); ok {
			if semi := strings.IndexByte(value, ';'); semi >= 0 {
				value = value[:semi]
			}
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// replacePartBody keeps a part's header lines and swaps the body bytes
// for the placeholder.
func replacePartBody(part []byte) []byte {
	end := headerEnd(part)
	if end < 0 {
		// Headerless part: nothing worth preserving.
		return []byte("\r\n" + Placeholder + "\r\n")
	}
	sep := 4
	if part[end] == '\n' {
		sep = 2
	}
	out := make([]byte, 0, end+sep+len(Placeholder)+2)
	out = append(out, part[:end+sep]...)
	out = append(out, Placeholder...)
	out = append(out, '\r', '\n')
	return out
}
