package normalize

import (
	"net/url"
	"unicode/utf8"
)

// Decode applies one pass of form decoding: '+' becomes a space and %XX
// becomes the byte XX. Input with a malformed escape, or whose decoded form
// is not valid UTF-8, is returned unchanged.
//
// Decoding is never repeated: "%253C" decodes to "%3C", not "<".
func Decode(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	if !utf8.ValidString(decoded) {
		return raw
	}
	return decoded
}
