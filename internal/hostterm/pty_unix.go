//go:build !windows

package hostterm

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

type unixPTY struct {
	f *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

// startPTY starts cmd attached to a Unix PTY, grounded on the teacher's
// pty_unix.go / shell_ref session.start, minus the interactive resize
// surface ACP's terminal/* methods don't expose.
func startPTY(cmd *exec.Cmd) (PtyHandle, error) {
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}
