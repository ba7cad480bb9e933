package shaders

import (
	"strings"

	"github.com/pkg/errors"
)

// The registry stores shader text in JavaScript template literals. Inside a
// template literal a backslash starts an escape, a backtick ends the literal
// and "${" starts a substitution; a raw CR or CRLF is read back as LF. Each of
// those is written as an escape sequence so the evaluated string equals the
// file byte for byte.
var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"${", `\${`,
	"\r", `\r`,
)

// EscapeLiteral returns text ready to be placed between backticks.
func EscapeLiteral(text string) string {
	return literalEscaper.Replace(text)
}

// UnescapeLiteral reverses EscapeLiteral. It accepts only the escapes
// EscapeLiteral produces.
func UnescapeLiteral(escaped string) (string, error) {
	var sb strings.Builder
	sb.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c == '`' {
			return "", errors.Errorf("unescaped backtick at offset %d", i)
		}
		if c == '$' && i+1 < len(escaped) && escaped[i+1] == '{' {
			return "", errors.Errorf("unescaped substitution at offset %d", i)
		}
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i+1 == len(escaped) {
			return "", errors.New("dangling backslash")
		}
		i++
		switch escaped[i] {
		case '\\', '`', '$':
			sb.WriteByte(escaped[i])
		case 'r':
			sb.WriteByte('\r')
		default:
			return "", errors.Errorf("unexpected escape \\%c at offset %d", escaped[i], i-1)
		}
	}
	return sb.String(), nil
}
