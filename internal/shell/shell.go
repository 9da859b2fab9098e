// Package shell implements the minimal command-line surface living above
// the core as an external collaborator: the core exposes an event feed,
// and the shell and TTY layers sit above it. Its built-in commands are a
// thin dispatch over internal/vfs, the same lookup/read shape the
// filesystem layer itself exposes.
package shell

import (
	"fmt"
	"strings"

	"github.com/astra-os/xkernel/internal/vfs"
)

// Printer is the shell's output sink: any type with a Print method (tests
// use a recording printer).
type Printer interface {
	Print(s string)
}

// Shell dispatches whitespace-split command lines to built-in handlers.
type Shell struct {
	fs      *vfs.FS
	out     Printer
	builtin map[string]func(args []string)
}

// New creates a Shell rooted at fs, printing output through out.
func New(fs *vfs.FS, out Printer) *Shell {
	s := &Shell{fs: fs, out: out}
	s.builtin = map[string]func(args []string){
		"ls":   s.cmdLs,
		"cat":  s.cmdCat,
		"echo": s.cmdEcho,
	}
	return s
}

// Line implements tty.LineReader, letting a Shell be wired directly as a
// TTY's line consumer.
func (s *Shell) Line(line string) {
	s.Run(line)
}

// Run parses and executes one command line.
func (s *Shell) Run(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]
	fn, ok := s.builtin[cmd]
	if !ok {
		s.printf("unknown command: %s\n", cmd)
		return
	}
	fn(args)
}

func (s *Shell) printf(format string, args ...any) {
	if s.out != nil {
		s.out.Print(fmt.Sprintf(format, args...))
	}
}

func (s *Shell) cmdLs(args []string) {
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}
	h, err := s.fs.Lookup(path)
	if err != nil {
		s.printf("ls: %v\n", err)
		return
	}
	names, err := s.fs.Readdir(h)
	if err != nil {
		s.printf("ls: %v\n", err)
		return
	}
	s.printf("%s\n", strings.Join(names, "  "))
}

func (s *Shell) cmdCat(args []string) {
	if len(args) != 1 {
		s.printf("usage: cat <path>\n")
		return
	}
	h, err := s.fs.Lookup(args[0])
	if err != nil {
		s.printf("cat: %v\n", err)
		return
	}
	data, err := s.fs.ReadAll(h)
	if err != nil {
		s.printf("cat: %v\n", err)
		return
	}
	s.printf("%s", string(data))
}

func (s *Shell) cmdEcho(args []string) {
	s.printf("%s\n", strings.Join(args, " "))
}
