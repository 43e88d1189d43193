package commands

import (
	"regexp"
	"strconv"
)

// promptEscape matches one backslash escape: \0NNN octal, \xHH hex or a
// single letter.
var promptEscape = regexp.MustCompile(`\\(0[0-7]{0,3}|x[0-9a-fA-F]{1,2}|[nrtae\\])`)

var promptEscapeLetters = map[byte]string{
	'n':  "\n",
	'r':  "\r",
	't':  "\t",
	'a':  "\a",
	'e':  "\033",
	'\\': `\`,
}

// unescape expands the backslash escapes allowed in prompts in a single left
// to right pass, so the output of one escape is never read as another.
func unescape(s string) string {
	return promptEscape.ReplaceAllStringFunc(s, func(esc string) string {
		body := esc[1:]
		switch body[0] {
		case '0':
			if len(body) == 1 {
				return "\x00"
			}
			n, err := strconv.ParseUint(body[1:], 8, 8)
			if err != nil {
				return esc
			}
			return string([]byte{byte(n)})
		case 'x':
			n, err := strconv.ParseUint(body[1:], 16, 8)
			if err != nil {
				return esc
			}
			return string([]byte{byte(n)})
		default:
			return promptEscapeLetters[body[0]]
		}
	})
}
