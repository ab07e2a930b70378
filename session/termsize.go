package session

import (
	"os"

	"golang.org/x/term"
)

// ttySize asks the controlling terminal (stdout) for its current
// dimensions, used to populate TERM_COLS/TERM_ROWS for template expansion
// (spec §4.7).
func ttySize() (width, height int, err error) {
	return term.GetSize(int(os.Stdout.Fd()))
}
