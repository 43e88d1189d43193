package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/josephlewis42/pipesh/core/jobs"
)

// ShellBuiltinFunc runs a built-in in the shell's own process.
type ShellBuiltinFunc func(s *Shell, args []string) int

// Builtin is a command the shell handles itself instead of starting a
// program.
type Builtin struct {
	Name  string
	Use   string
	Short string
	Main  ShellBuiltinFunc
}

// AllBuiltins holds a list of all registered shell builtins
var AllBuiltins = make(map[string]Builtin)

func addBuiltin(b Builtin) {
	AllBuiltins[b.Name] = b
}

// ListBuiltins returns the registered built-ins sorted by name.
func ListBuiltins() []Builtin {
	var out []Builtin
	for _, b := range AllBuiltins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

func (b Builtin) command() *SimpleCommand {
	return &SimpleCommand{Use: b.Use, Short: b.Short}
}

// Help lists the built-ins.
func Help(s *Shell, args []string) int {
	cmd := AllBuiltins["?"].command()
	return cmd.Run(s, args, func() int {
		for _, b := range ListBuiltins() {
			fmt.Fprintf(s.Stdout, "%s - %s\n", s.Color.Sprintf(ColorBoldBlue, "%s", b.Name), b.Short)
		}
		return 0
	})
}

// Exit quits the shell with the given status, zero if none is given.
func Exit(s *Shell, args []string) int {
	cmd := AllBuiltins["exit"].command()
	return cmd.Run(s, args, func() int {
		code := 0
		switch rest := cmd.Args(); len(rest) {
		case 0:
		case 1:
			n, err := strconv.Atoi(rest[0])
			if err != nil {
				s.errorf("exit: %s: numeric argument required", rest[0])
				code = 2
				break
			}
			code = n & 0xff
		default:
			s.errorf("exit: too many arguments")
			return 1
		}

		s.exitCode = code
		s.Quit = true
		return code
	})
}

// Pwd prints the working directory.
func Pwd(s *Shell, args []string) int {
	cmd := AllBuiltins["pwd"].command()
	return cmd.Run(s, args, func() int {
		pwd, err := os.Getwd()
		if err != nil {
			s.errorf("pwd: %v", err)
			return 1
		}
		fmt.Fprintln(s.Stdout, pwd)
		return 0
	})
}

// Cd changes the working directory of the shell and every program it starts
// afterwards.
func Cd(s *Shell, args []string) int {
	cmd := AllBuiltins["cd"].command()
	return cmd.Run(s, args, func() int {
		var dir string
		switch rest := cmd.Args(); len(rest) {
		case 0:
			dir = s.Env.Getenv(EnvHome)
			if dir == "" {
				s.errorf("cd: HOME not set")
				return 1
			}
		case 1:
			dir = rest[0]
		default:
			s.errorf("cd: too many arguments")
			return 1
		}

		if err := os.Chdir(dir); err != nil {
			s.errorf("cd: %v", err)
			return 1
		}
		if pwd, err := os.Getwd(); err == nil {
			s.Env.Setenv(EnvPWD, pwd)
		}
		return 0
	})
}

// Wait blocks until every background process has been reaped or the user
// interrupts.
func Wait(s *Shell, args []string) int {
	cmd := AllBuiltins["wait"].command()
	return cmd.Run(s, args, func() int {
		ctx, cancel := context.WithCancel(s.lineContext())
		defer cancel()

		if s.Interrupts != nil {
			// Drop interrupts that arrived before wait started.
			select {
			case <-s.Interrupts:
			default:
			}

			go func() {
				select {
				case <-s.Interrupts:
					cancel()
				case <-ctx.Done():
				}
			}()
		}

		err := s.Jobs.Table().WaitBackground(ctx)
		s.reportDone()
		if errors.Is(err, context.Canceled) {
			return 128 + 2 // SIGINT
		}
		if err != nil {
			s.errorf("wait: %v", err)
			return 1
		}
		return 0
	})
}

// Jobs lists the processes the shell is tracking.
func Jobs(s *Shell, args []string) int {
	cmd := AllBuiltins["jobs"].command()
	return cmd.Run(s, args, func() int {
		for _, info := range s.Jobs.Table().List() {
			state := info.State.String()
			if info.State == jobs.ProcessReaped && !info.Status.Success() {
				state = fmt.Sprintf("Exit %d", info.Status.Code)
			}
			fmt.Fprintf(s.Stdout, "[%d] %d %-10s %s\n", info.PGID, info.PID, state, info.Cmdline)
		}
		return 0
	})
}

// Type describes how each name would be run.
func Type(s *Shell, args []string) int {
	cmd := AllBuiltins["type"].command()
	return cmd.Run(s, args, func() int {
		ret := 0
		for _, name := range cmd.Args() {
			if _, ok := AllBuiltins[name]; ok {
				fmt.Fprintf(s.Stdout, "%s is a shell builtin\n", name)
				continue
			}

			path, err := jobs.LookPath(s.Fs, s.Env, name)
			switch {
			case err == nil:
				fmt.Fprintf(s.Stdout, "%s is %s\n", name, path)
			case errors.Is(err, jobs.ErrCommandNotFound):
				s.errorf("type: %s: not found", name)
				ret = 1
			default:
				s.errorf("type: %s: %v", name, err)
				ret = 1
			}
		}
		return ret
	})
}

func init() {
	addBuiltin(Builtin{Name: "?", Use: "?", Short: "show this help menu", Main: Help})
	addBuiltin(Builtin{Name: "exit", Use: "exit [N]", Short: "exit the command shell", Main: Exit})
	addBuiltin(Builtin{Name: "pwd", Use: "pwd", Short: "prints the current working directory", Main: Pwd})
	addBuiltin(Builtin{Name: "cd", Use: "cd [DIR]", Short: "changes the current working directory to that supplied", Main: Cd})
	addBuiltin(Builtin{Name: "wait", Use: "wait", Short: "waits for all background processes to finish", Main: Wait})
	addBuiltin(Builtin{Name: "jobs", Use: "jobs", Short: "lists processes started by this shell", Main: Jobs})
	addBuiltin(Builtin{Name: "type", Use: "type NAME...", Short: "shows how each name would be interpreted as a command", Main: Type})
}
