package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"report.txt", "text/plain"},
		{"REPORT.TXT", "text/plain"},
		{"data.csv", "text/csv"},
		{"photo.png", "image/png"},
		{"doc.pdf", "application/pdf"},
		{"config.json", "application/json"},
		{"archive.unknownext", "application/octet-stream"},
		{"Makefile", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentType(tt.name); got != tt.want {
				t.Errorf("ContentType(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestIsText(t *testing.T) {
	for _, mt := range []string{"text/plain", "text/html", "application/json", "application/ld+json", "image/svg+xml"} {
		if !IsText(mt) {
			t.Errorf("expected %s to be text", mt)
		}
	}
	for _, mt := range []string{"image/png", "application/pdf", "application/octet-stream"} {
		if IsText(mt) {
			t.Errorf("expected %s not to be text", mt)
		}
	}
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestHeader(t *testing.T) {
	t.Run("inline text declares utf-8", func(t *testing.T) {
		ct, body, raw := Header(Inline, "notes.txt", strings.NewReader("hello"))
		if ct != "text/plain; charset=utf-8" {
			t.Errorf("unexpected content type %q", ct)
		}
		if raw {
			t.Error("inline text must be transcoded")
		}
		if got := readAll(t, body); got != "hello" {
			t.Errorf("expected 'hello', got %q", got)
		}
	})

	t.Run("attachment is raw", func(t *testing.T) {
		raw := []byte{0xff, 0xfe, 'h', 0, 'i', 0}
		ct, body, passthrough := Header(Attachment, "notes.txt", bytes.NewReader(raw))
		if ct != "text/plain" || !passthrough {
			t.Errorf("unexpected content type %q (passthrough %v)", ct, passthrough)
		}
		if got := readAll(t, body); got != string(raw) {
			t.Errorf("attachment body was modified: %q", got)
		}
	})

	t.Run("inline binary is raw", func(t *testing.T) {
		raw := []byte{0x89, 'P', 'N', 'G', 0xff}
		ct, body, _ := Header(Inline, "image.png", bytes.NewReader(raw))
		if ct != "image/png" {
			t.Errorf("unexpected content type %q", ct)
		}
		if got := readAll(t, body); got != string(raw) {
			t.Errorf("binary body was modified")
		}
	})
}

func TestUTF8Reader(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"plain utf-8", []byte("привет"), "привет"},
		{"utf-8 bom stripped", append([]byte{0xef, 0xbb, 0xbf}, "abc"...), "abc"},
		{"utf-16le bom", []byte{0xff, 0xfe, 'h', 0, 'i', 0}, "hi"},
		{"utf-16be bom", []byte{0xfe, 0xff, 0, 'h', 0, 'i'}, "hi"},
		{"invalid bytes replaced", []byte{'a', 0xff, 'b'}, "a�b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := readAll(t, UTF8Reader(bytes.NewReader(tt.in))); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDisposition(t *testing.T) {
	tests := []struct {
		mode Mode
		name string
		want string
	}{
		{Attachment, "report.txt", "attachment; filename=report.txt; filename*=UTF-8''report.txt"},
		{Inline, "my report.txt", `inline; filename="my report.txt"; filename*=UTF-8''my%20report.txt`},
		{
			Attachment, "Отчёт.txt",
			"attachment; filename=_____.txt; filename*=UTF-8''%D0%9E%D1%82%D1%87%D1%91%D1%82.txt",
		},
		{Attachment, `a"b.txt`, "attachment; filename=a_b.txt; filename*=UTF-8''a%22b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Disposition(tt.mode, tt.name); got != tt.want {
				t.Errorf("Disposition(%s, %q) =\n %q\nwant\n %q", tt.mode, tt.name, got, tt.want)
			}
		})
	}
}

type recordingWriter struct {
	writes  []int
	flushes int
	buf     bytes.Buffer
	failAt  int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.failAt > 0 && len(w.writes)+1 == w.failAt {
		return 0, errors.New("connection reset")
	}
	w.writes = append(w.writes, len(p))
	return w.buf.Write(p)
}

func (w *recordingWriter) Flush() { w.flushes++ }

func TestCopy(t *testing.T) {
	ctx := context.Background()

	t.Run("chunks and flushes", func(t *testing.T) {
		w := &recordingWriter{}
		payload := strings.Repeat("x", 1300)

		n, err := Copy(ctx, w, strings.NewReader(payload), 512)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 1300 || w.buf.String() != payload {
			t.Fatalf("expected full payload, got %d bytes", n)
		}
		for _, size := range w.writes {
			if size > 512 {
				t.Errorf("chunk of %d bytes exceeds 512", size)
			}
		}
		if len(w.writes) != 3 || w.flushes != 3 {
			t.Errorf("expected 3 writes and flushes, got %d and %d", len(w.writes), w.flushes)
		}
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		w := &recordingWriter{}

		_, err := Copy(cancelled, w, strings.NewReader("data"), 512)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if w.buf.Len() != 0 {
			t.Errorf("expected nothing written, got %d bytes", w.buf.Len())
		}
	})

	t.Run("stops on write error", func(t *testing.T) {
		w := &recordingWriter{failAt: 2}
		n, err := Copy(ctx, w, strings.NewReader(strings.Repeat("y", 2048)), 512)
		if err == nil {
			t.Fatal("expected write error")
		}
		if n != 512 {
			t.Errorf("expected 512 bytes before failure, got %d", n)
		}
	})
}
