package hostterm

import "io"

// PtyHandle abstracts PTY operations across Unix and Windows, the same
// split the teacher uses between creack/pty (*os.File) on Unix and
// UserExistsError/conpty on Windows.
type PtyHandle interface {
	io.ReadWriteCloser
}
