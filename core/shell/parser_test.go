package shell

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	cases := map[string]struct {
		line string
		want []Token
	}{
		"empty": {
			line: "",
			want: []Token{},
		},
		"simple": {
			line: "ls -l",
			want: []Token{{Word, "ls"}, {Word, "-l"}},
		},
		"quoted word next to an operator": {
			line: "echo 'a b' | cat",
			want: []Token{{Word, "echo"}, {Word, "a b"}, {Pipe, "|"}, {Word, "cat"}},
		},
		"single quoted operators are words": {
			line: "echo '|' x '&'",
			want: []Token{{Word, "echo"}, {Word, "|"}, {Word, "x"}, {Word, "&"}},
		},
		"double quoted operators are words": {
			line: `echo ">" "<"`,
			want: []Token{{Word, "echo"}, {Word, ">"}, {Word, "<"}},
		},
		"escaped operator is a word": {
			line: `echo \| cat`,
			want: []Token{{Word, "echo"}, {Word, "|"}, {Word, "cat"}},
		},
		"quoted blanks stay in one word": {
			line: `grep "a | b" < in`,
			want: []Token{{Word, "grep"}, {Word, "a | b"}, {RedirectIn, "<"}, {Word, "in"}},
		},
		"operators must be separate words": {
			line: "a|b c>d",
			want: []Token{{Word, "a|b"}, {Word, "c>d"}},
		},
		"all operators": {
			line: "cat < in | sort > out &",
			want: []Token{
				{Word, "cat"}, {RedirectIn, "<"}, {Word, "in"},
				{Pipe, "|"},
				{Word, "sort"}, {RedirectOut, ">"}, {Word, "out"},
				{Background, "&"},
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Tokenize(tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTokenize_unterminated(t *testing.T) {
	for _, line := range []string{`echo "a | b`, `echo 'x`} {
		_, err := Tokenize(line)
		assert.Error(t, err, line)
	}
}

func TestParse_quotedOperators(t *testing.T) {
	p, err := Parse(`echo '|' ">" x`)
	require.NoError(t, err)

	require.Len(t, p.Stages, 1)
	assert.Equal(t, []string{"echo", "|", ">", "x"}, p.Stages[0].Args)
	assert.Empty(t, p.Stages[0].Output)
}

func TestPlan(t *testing.T) {
	cases := map[string]struct {
		line string
		want *Pipeline
	}{
		"single": {
			line: "ls -l /tmp",
			want: &Pipeline{Stages: []Stage{{Args: []string{"ls", "-l", "/tmp"}}}},
		},
		"pipe": {
			line: "echo hello | cat",
			want: &Pipeline{Stages: []Stage{
				{Args: []string{"echo", "hello"}},
				{Args: []string{"cat"}},
			}},
		},
		"redirections": {
			line: "sort < in.txt | uniq -c > out.txt",
			want: &Pipeline{Stages: []Stage{
				{Args: []string{"sort"}, Input: "in.txt"},
				{Args: []string{"uniq", "-c"}, Output: "out.txt"},
			}},
		},
		"redirection between arguments": {
			line: "grep > out.txt foo",
			want: &Pipeline{Stages: []Stage{
				{Args: []string{"grep", "foo"}, Output: "out.txt"},
			}},
		},
		"background": {
			line: "sleep 5 &",
			want: &Pipeline{
				Stages:     []Stage{{Args: []string{"sleep", "5"}}},
				Background: true,
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Parse(tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPlan_malformed(t *testing.T) {
	cases := map[string][]Token{
		"empty":                   {},
		"only background":         Words("&"),
		"leading pipe":            Words("|", "cat"),
		"trailing pipe":           Words("ls", "|"),
		"double pipe":             Words("ls", "|", "|", "cat"),
		"missing input target":    Words("cat", "<"),
		"missing output target":   Words("ls", ">"),
		"redirect into operator":  Words("ls", ">", "|", "cat"),
		"redirect without cmd":    Words("<", "in", "cat"),
		"two inputs":              Words("cat", "<", "a", "<", "b"),
		"two outputs":             Words("ls", ">", "a", ">", "b"),
		"input on later stage":    Words("ls", "|", "cat", "<", "in"),
		"output on earlier stage": Words("ls", ">", "out", "|", "cat"),
		"background not last":     Words("sleep", "1", "&", "ls"),
		"background inside pipe":  Words("sleep", "&", "|", "cat"),
	}

	for name, tokens := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Plan(tokens)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrMalformedPipeline)
		})
	}
}

func TestPlan_stageCount(t *testing.T) {
	for pipes := 0; pipes < 8; pipes++ {
		var words []string
		for i := 0; i <= pipes; i++ {
			if i > 0 {
				words = append(words, "|")
			}
			words = append(words, fmt.Sprintf("cmd%d", i), "arg")
		}

		for _, bg := range []bool{false, true} {
			line := strings.Join(words, " ")
			if bg {
				line += " &"
			}

			t.Run(line, func(t *testing.T) {
				p, err := Parse(line)
				require.NoError(t, err)
				assert.Len(t, p.Stages, pipes+1)
				assert.Equal(t, bg, p.Background)

				for _, s := range p.Stages {
					for _, arg := range s.Args {
						assert.NotContains(t, []string{"|", "&", "<", ">"}, arg)
					}
				}
			})
		}
	}
}

func TestPipeline_String(t *testing.T) {
	p, err := Parse("sort   <   in | uniq -c > 'out file' &")
	require.NoError(t, err)
	assert.Equal(t, "sort < in | uniq -c > out file &", p.String())
}

func ExampleParse() {
	p, err := Parse("cat < words.txt | sort | uniq > counts.txt")
	if err != nil {
		panic(err)
	}

	for _, stage := range p.Stages {
		fmt.Printf("%q in=%q out=%q\n", stage.Args, stage.Input, stage.Output)
	}

	// Output:
	// ["cat"] in="words.txt" out=""
	// ["sort"] in="" out=""
	// ["uniq"] in="" out="counts.txt"
}
