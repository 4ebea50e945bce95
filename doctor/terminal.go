package doctor

import (
	"os"

	"golang.org/x/term"
)

// saveTerminal captures the stdin terminal mode so a check that leaves it
// raw cannot break the caller's shell.
func saveTerminal() func() {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	state, err := term.GetState(fd)
	if err != nil {
		return func() {}
	}
	return func() { _ = term.Restore(fd, state) }
}
