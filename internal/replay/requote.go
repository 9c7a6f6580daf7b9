package replay

import "strings"

// uriSafe are the reserved characters left alone when a sample is requoted,
// on top of the unreserved set.
const uriSafe = "!#$%&'()*+,/:;=?@[]~"

// RequoteURI makes a sample sendable without changing what the server
// decodes. Valid %XX escapes are kept, except that escapes of unreserved
// characters are decoded. A '%' that does not start an escape becomes %25.
// Spaces, control bytes, non-ASCII bytes and other unsafe characters are
// percent-encoded.
func RequoteURI(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' {
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				if d := unhex(s[i+1])<<4 | unhex(s[i+2]); isUnreserved(d) {
					b.WriteByte(d)
				} else {
					b.WriteString(s[i : i+3])
				}
				i += 2
				continue
			}
			b.WriteString("%25")
			continue
		}
		if isUnreserved(c) || strings.IndexByte(uriSafe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
