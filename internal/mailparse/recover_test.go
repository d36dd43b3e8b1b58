package mailparse

import (
	"testing"
)

// gbkNihao is "你好" encoded as GBK.
const gbkNihao = "\xc4\xe3\xba\xc3"

func TestRecoverFastPath(t *testing.T) {
	text, html, charset := RecoverText([]byte("irrelevant"), "plain text", "<p>html</p>")
	if text != "plain text" || html != "<p>html</p>" || charset != "" {
		t.Fatalf("fast path altered inputs: %q %q %q", text, html, charset)
	}
}

func TestRecoverGBKPlainBody(t *testing.T) {
	raw := crlf(
		"From: qq@example.cn",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: 8bit",
		"",
		gbkNihao,
	)
	text, html, charset := RecoverText(raw, "��", "")
	if charset != "gbk" {
		t.Fatalf("expected charset gbk, got %q", charset)
	}
	if text != "你好" {
		t.Fatalf("expected recovered 你好, got %q", text)
	}
	if html != "" {
		t.Fatalf("html should stay untouched, got %q", html)
	}
}

func TestRecoverBase64Body(t *testing.T) {
	// gbkNihao base64-encoded.
	raw := crlf(
		"Content-Type: text/plain; charset=gb2312",
		"Content-Transfer-Encoding: base64",
		"",
		"xOO6ww==",
		"",
	)
	text, _, charset := RecoverText(raw, "�", "")
	if charset != "gbk" || text != "你好" {
		t.Fatalf("base64 body not recovered: %q %q", text, charset)
	}
}

func TestRecoverQuotedPrintableBody(t *testing.T) {
	raw := crlf(
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"=C4=E3=BA=C3",
		"",
	)
	text, _, charset := RecoverText(raw, "�", "")
	if charset != "gbk" || text != "你好" {
		t.Fatalf("quoted-printable body not recovered: %q %q", text, charset)
	}
}

func TestRecoverMultipartLocatesTextPlain(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/alternative; boundary="AB"`,
		"",
		"--AB",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: 8bit",
		"",
		gbkNihao,
		"--AB",
		"Content-Type: text/html",
		"",
		"<p>ignored</p>",
		"--AB--",
		"",
	)
	text, _, charset := RecoverText(raw, "garbled �", "")
	if charset != "gbk" {
		t.Fatalf("expected gbk from multipart body, got %q", charset)
	}
	if text != "你好" {
		t.Fatalf("unexpected recovered text %q", text)
	}
}

func TestRecoverUndecodableLeavesInputs(t *testing.T) {
	raw := crlf(
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: 8bit",
		"",
		"\xff\xff\xff\xff",
	)
	text, html, charset := RecoverText(raw, "bad �", "")
	if charset != "" {
		t.Fatalf("expected no recovery, got charset %q", charset)
	}
	if text != "bad �" || html != "" {
		t.Fatalf("inputs altered on failed recovery: %q %q", text, html)
	}
}

func TestRecoverNoBodyBytes(t *testing.T) {
	raw := crlf(
		`Content-Type: multipart/mixed; boundary="AB"`,
		"",
		"--AB",
		"Content-Type: image/png",
		"",
		"not text",
		"--AB--",
		"",
	)
	text, _, charset := RecoverText(raw, "�", "")
	if charset != "" || text != "�" {
		t.Fatalf("expected unchanged inputs without a text body, got %q %q", text, charset)
	}
}

func TestLooksReadable(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"你好，世界", true},
		{"hello world", true},
		{"ÄãºÃÄãºÃÄãºÃ", false}, // GBK bytes mis-read as latin text
		{"", false},
	}
	for _, c := range cases {
		if got := looksReadable(c.in); got != c.want {
			t.Fatalf("looksReadable(%q) = %t, want %t", c.in, got, c.want)
		}
	}
}
