//go:build windows

package hostterm

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/UserExistsError/conpty"
)

type windowsPTY struct {
	cpty *conpty.ConPty
}

func (p *windowsPTY) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *windowsPTY) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *windowsPTY) Close() error                { return p.cpty.Close() }

// startPTY starts cmd under a Windows ConPTY, grounded on the teacher's
// pty_windows.go. ConPTY manages process creation internally, so this
// reconstructs a command line from cmd.Args rather than calling cmd.Start().
func startPTY(cmd *exec.Cmd) (PtyHandle, error) {
	cmdLine := strings.Join(quoteArgs(cmd.Args), " ")
	if len(cmd.Args) == 0 {
		cmdLine = cmd.Path
	}

	opts := []conpty.ConPtyOption{conpty.ConPtyDimensions(termCols, termRows)}
	if cmd.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(cmd.Dir))
	}
	if cmd.Env != nil {
		opts = append(opts, conpty.ConPtyEnv(cmd.Env))
	}

	cpty, err := conpty.Start(cmdLine, opts...)
	if err != nil {
		return nil, err
	}

	proc, err := os.FindProcess(int(cpty.Pid()))
	if err != nil {
		_ = cpty.Close()
		return nil, fmt.Errorf("failed to find ConPTY process %d: %w", cpty.Pid(), err)
	}
	cmd.Process = proc

	return &windowsPTY{cpty: cpty}, nil
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t\"") {
			a = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		}
		out[i] = a
	}
	return out
}
