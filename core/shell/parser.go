// Package shell turns command lines into pipelines.
//
// The grammar is a small subset of the POSIX shell command language:
// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html
//
// 1. The line is broken into words following the quoting rules (2.3).
// 2. Words are classified into operators and arguments. Only whole words
//    are recognized as operators, so "a|b" is a single argument.
// 3. Arguments are grouped into simple commands separated by '|' (2.9.2).
// 4. At most one input and one output redirection is applied per command
//    (2.7.1, 2.7.2). Input is only allowed on the first command and output
//    on the last.
// 5. A trailing '&' runs the whole pipeline asynchronously (2.9.3).
//
// Expansions, compound commands and here-documents are not supported.
package shell

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPipeline is returned when a token stream doesn't describe a
// valid pipeline.
var ErrMalformedPipeline = errors.New("malformed pipeline")

func malformed(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPipeline, fmt.Sprintf(format, a...))
}

// Stage is a single command in a pipeline.
type Stage struct {
	// Args holds the program name followed by its arguments, never empty.
	Args []string
	// Input is a file to read stdin from, empty if stdin isn't redirected.
	Input string
	// Output is a file to write stdout to, empty if stdout isn't redirected.
	Output string
}

// Name is the program the stage runs.
func (s Stage) Name() string {
	return s.Args[0]
}

func (s Stage) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(s.Args, " "))
	if s.Input != "" {
		fmt.Fprintf(&sb, " < %s", s.Input)
	}
	if s.Output != "" {
		fmt.Fprintf(&sb, " > %s", s.Output)
	}
	return sb.String()
}

// Pipeline is an ordered list of stages connected stdout to stdin.
type Pipeline struct {
	Stages     []Stage
	Background bool
}

// String renders the pipeline as a canonical command line.
func (p *Pipeline) String() string {
	parts := make([]string, 0, len(p.Stages))
	for _, s := range p.Stages {
		parts = append(parts, s.String())
	}

	out := strings.Join(parts, " | ")
	if p.Background {
		out += " &"
	}
	return out
}

// Plan builds a pipeline from a token stream.
func Plan(tokens []Token) (*Pipeline, error) {
	if len(tokens) == 0 {
		return nil, malformed("empty command")
	}

	pipeline := &Pipeline{}
	if last := tokens[len(tokens)-1]; last.Kind == Background {
		pipeline.Background = true
		tokens = tokens[:len(tokens)-1]
		if len(tokens) == 0 {
			return nil, malformed("missing command before %q", last.Text)
		}
	}

	var current Stage
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok.Kind {
		case Word:
			current.Args = append(current.Args, tok.Text)

		case Pipe:
			if len(current.Args) == 0 {
				return nil, malformed("missing command before %q", tok.Text)
			}
			pipeline.Stages = append(pipeline.Stages, current)
			current = Stage{}

		case RedirectIn, RedirectOut:
			if len(current.Args) == 0 {
				return nil, malformed("missing command before %q", tok.Text)
			}
			if i+1 >= len(tokens) || tokens[i+1].Kind != Word {
				return nil, malformed("missing file after %q", tok.Text)
			}
			i++
			target := tokens[i].Text

			if tok.Kind == RedirectIn {
				if current.Input != "" {
					return nil, malformed("%s: more than one input redirection", current.Name())
				}
				current.Input = target
			} else {
				if current.Output != "" {
					return nil, malformed("%s: more than one output redirection", current.Name())
				}
				current.Output = target
			}

		case Background:
			return nil, malformed("%q is only allowed at the end of a command", tok.Text)

		default:
			return nil, malformed("unknown token %q", tok.Text)
		}
	}

	if len(current.Args) == 0 {
		return nil, malformed("missing command after %q", "|")
	}
	pipeline.Stages = append(pipeline.Stages, current)

	last := len(pipeline.Stages) - 1
	for i, stage := range pipeline.Stages {
		if stage.Input != "" && i != 0 {
			return nil, malformed("%s: input redirection is only allowed on the first command", stage.Name())
		}
		if stage.Output != "" && i != last {
			return nil, malformed("%s: output redirection is only allowed on the last command", stage.Name())
		}
	}

	return pipeline, nil
}

// Parse tokenizes and plans a line.
func Parse(line string) (*Pipeline, error) {
	tokens, err := Tokenize(line)
	if err != nil {
		return nil, err
	}
	return Plan(tokens)
}
