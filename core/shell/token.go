package shell

import (
	"fmt"

	"github.com/anmitsu/go-shlex"
)

// Kind classifies a token as a literal word or one of the pipeline operators.
type Kind int

const (
	// Word is a literal argument.
	Word Kind = iota
	// Pipe connects the stdout of one stage to the stdin of the next.
	Pipe
	// RedirectIn reads a stage's stdin from a file.
	RedirectIn
	// RedirectOut writes a stage's stdout to a file.
	RedirectOut
	// Background detaches the whole pipeline, only valid as the last token.
	Background
)

var kindNames = map[Kind]string{
	Word:        "word",
	Pipe:        "|",
	RedirectIn:  "<",
	RedirectOut: ">",
	Background:  "&",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is a single word or operator from a command line.
type Token struct {
	Kind Kind
	Text string
}

func (t Token) String() string {
	return t.Text
}

// Classify turns a whitespace separated word into a token. Operators are only
// recognized when they make up the whole word.
func Classify(word string) Token {
	switch word {
	case "|":
		return Token{Kind: Pipe, Text: word}
	case "<":
		return Token{Kind: RedirectIn, Text: word}
	case ">":
		return Token{Kind: RedirectOut, Text: word}
	case "&":
		return Token{Kind: Background, Text: word}
	default:
		return Token{Kind: Word, Text: word}
	}
}

// Words builds a token stream from pre-split words.
func Words(words ...string) []Token {
	out := make([]Token, 0, len(words))
	for _, w := range words {
		out = append(out, Classify(w))
	}
	return out
}

// Tokenize splits a line into tokens using POSIX quoting rules. Only unquoted
// operator words are operators, so `echo '|'` passes a literal bar to echo.
func Tokenize(line string) ([]Token, error) {
	// Reports unterminated quotes and escapes for the whole line.
	if _, err := shlex.Split(line, true); err != nil {
		return nil, err
	}

	out := []Token{}
	chunkStart := 0
	for _, w := range rawWords(line) {
		op := Classify(line[w.start:w.end])
		if op.Kind == Word {
			continue
		}

		// Operators are whole words bounded by blanks so the text between
		// them splits the same way on its own.
		words, err := shlex.Split(line[chunkStart:w.start], true)
		if err != nil {
			return nil, err
		}
		out = append(out, wordTokens(words)...)
		out = append(out, op)
		chunkStart = w.end
	}

	words, err := shlex.Split(line[chunkStart:], true)
	if err != nil {
		return nil, err
	}
	return append(out, wordTokens(words)...), nil
}

func wordTokens(words []string) []Token {
	out := make([]Token, 0, len(words))
	for _, w := range words {
		out = append(out, Token{Kind: Word, Text: w})
	}
	return out
}

type span struct {
	start, end int
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// rawWords finds the blank separated words of line as they were typed, with
// their quotes and escapes still in place.
func rawWords(line string) []span {
	var out []span
	i := 0
	for i < len(line) {
		for i < len(line) && isBlank(line[i]) {
			i++
		}
		if i == len(line) {
			break
		}

		start := i
		var quote byte
		for ; i < len(line); i++ {
			c := line[i]
			if quote == 0 && isBlank(c) {
				break
			}

			switch {
			case quote == '\'':
				if c == '\'' {
					quote = 0
				}
			case c == '\\':
				i++ // skip the escaped byte
			case quote == '"':
				if c == '"' {
					quote = 0
				}
			case c == '\'' || c == '"':
				quote = c
			}
		}
		if i > len(line) {
			i = len(line)
		}
		out = append(out, span{start, i})
	}
	return out
}
