// Package delivery holds the HTTP-independent parts of file delivery:
// media type detection, the inline text charset policy, Content-Disposition
// formatting and chunked streaming.
package delivery

import (
	"context"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Mode selects how a browser should treat the response body.
type Mode string

const (
	Inline     Mode = "inline"
	Attachment Mode = "attachment"
)

const defaultMediaType = "application/octet-stream"

// extraTypes covers common extensions missing from Go's built-in table so
// detection does not depend on the host's mime.types.
var extraTypes = map[string]string{
	".txt":  "text/plain; charset=utf-8",
	".log":  "text/plain; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".yaml": "application/yaml",
	".zip":  "application/zip",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
}

func init() {
	for ext, typ := range extraTypes {
		if err := mime.AddExtensionType(ext, typ); err != nil {
			panic(err)
		}
	}
}

// ContentType returns the bare media type for a file name, derived from its
// extension. Unknown extensions map to application/octet-stream.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return defaultMediaType
	}
	full := mime.TypeByExtension(ext)
	if full == "" {
		return defaultMediaType
	}
	mediaType, _, err := mime.ParseMediaType(full)
	if err != nil {
		return defaultMediaType
	}
	return mediaType
}

// IsText reports whether a media type carries human-readable text.
func IsText(mediaType string) bool {
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case strings.HasSuffix(mediaType, "+json"), strings.HasSuffix(mediaType, "+xml"):
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/javascript", "application/x-javascript":
		return true
	}
	return false
}

// Header returns the Content-Type value and body for a delivery. Inline text
// is transcoded to UTF-8 and declared as such; everything else passes through
// unchanged with the bare media type. raw reports whether body is the
// unmodified input, whose length is then known to the caller.
func Header(mode Mode, name string, body io.Reader) (contentType string, out io.Reader, raw bool) {
	mediaType := ContentType(name)
	if mode == Inline && IsText(mediaType) {
		return mediaType + "; charset=utf-8", UTF8Reader(body), false
	}
	return mediaType, body, true
}

// UTF8Reader decodes r to UTF-8. A UTF-8 or UTF-16 byte order mark selects
// the source encoding and is dropped; without one the input is read as UTF-8
// and invalid sequences become U+FFFD.
func UTF8Reader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// Disposition formats a Content-Disposition value with a quoted ASCII
// fallback and an RFC 5987 filename* parameter carrying the exact name.
func Disposition(mode Mode, name string) string {
	fallback := mime.FormatMediaType(string(mode), map[string]string{"filename": asciiFallback(name)})
	if fallback == "" {
		fallback = string(mode)
	}
	return fallback + "; filename*=UTF-8''" + EncodeFilename(name)
}

// EncodeFilename percent-encodes name as UTF-8, leaving only RFC 5987
// attr-chars unescaped.
func EncodeFilename(name string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

func asciiFallback(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}

// Copy streams r to w in chunks of at most chunkSize bytes, flushing after
// every chunk when w supports it. It stops at the first write error or once
// ctx is done.
func Copy(ctx context.Context, w io.Writer, r io.Reader, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 512
	}
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
