package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	getopt "github.com/pborman/getopt/v2"
)

// SimpleCommand parses the flags of a built-in and prints its help.
type SimpleCommand struct {
	// Use holds a one line usage string
	Use string
	// Short holds a one line description of the command.
	Short string
	// ShowHelp sets whether help is displayed or not.
	// If this is non-nil when Run() is called, then the default help flag isn't
	// added.
	ShowHelp *bool

	flags *getopt.Set
}

// Flags gets the command's flag set.
func (s *SimpleCommand) Flags() *getopt.Set {
	if s.flags == nil {
		s.flags = getopt.New()
	}

	return s.flags
}

// Args returns the positional arguments left after flag parsing.
func (s *SimpleCommand) Args() []string {
	return s.Flags().Args()
}

// PrintHelp writes help for the command to the given writer.
func (s *SimpleCommand) PrintHelp(w io.Writer) {
	fmt.Fprint(w, "usage: ")
	fmt.Fprintln(w, s.Use)
	fmt.Fprintln(w, s.Short)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	s.Flags().PrintOptions(w)
}

// Run the command, if flag parsing was successful call the callback.
func (s *SimpleCommand) Run(sh *Shell, args []string, callback func() int) int {
	opts := s.Flags()

	// Add help flag if not overridden.
	if s.ShowHelp == nil {
		s.ShowHelp = opts.BoolLong("help", 'h', "show this help and exit")
	}

	if err := opts.Getopt(args, nil); err != nil {
		sh.Log.Printf("%s: %v", args[0], err)
		fmt.Fprintf(sh.Stderr, "error: %s\n\n", err)

		s.PrintHelp(sh.Stdout)
		return 2
	}

	if *s.ShowHelp {
		s.PrintHelp(sh.Stdout)
		return 0
	}

	return callback()
}

// Color modes.
const (
	colorAlways = "always"
	colorAuto   = "auto"
	colorNever  = "never"
)

func forceColor(c *color.Color) *color.Color {
	// Whether to color is decided by ColorPrinter, not the library's
	// detection of os.Stdout.
	c.EnableColor()
	return c
}

var (
	ColorBoldBlue  = forceColor(color.New(color.FgBlue, color.Bold))
	ColorBoldGreen = forceColor(color.New(color.FgGreen, color.Bold))
	ColorBoldCyan  = forceColor(color.New(color.FgCyan, color.Bold))
	ColorBoldRed   = forceColor(color.New(color.FgRed, color.Bold))
)

// ColorPrinter colors output depending on the configured mode.
type ColorPrinter struct {
	// Mode is one of always, auto or never.
	Mode string
	// IsTerminal is consulted in auto mode.
	IsTerminal func() bool
}

func (c *ColorPrinter) ShouldColor() bool {
	switch {
	case c == nil || c.Mode == colorNever:
		return false
	case c.Mode == colorAlways:
		return true
	default:
		return c.IsTerminal != nil && c.IsTerminal()
	}
}

func (c *ColorPrinter) Sprintf(color *color.Color, format string, a ...interface{}) string {
	if c.ShouldColor() {
		return color.Sprintf(format, a...)
	}
	return fmt.Sprintf(format, a...)
}
