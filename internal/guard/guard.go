// Package guard refuses commands that could take hosts down or destroy data.
package guard

import (
	"fmt"
	"strings"
)

// Blocked lists the fragments that make a command destructive. Matching is
// a case-insensitive substring test.
var Blocked = []string{"rm ", "reboot", "shutdown", "init 0", "init 6", "mkfs", "dd if="}

// BlockedError reports the fragment that matched.
type BlockedError struct {
	Command  string
	Fragment string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("command %q blocked: contains %q (use --force to run it anyway)", e.Command, strings.TrimSpace(e.Fragment))
}

// Check returns a *BlockedError if command contains a blocked fragment.
func Check(command string) error {
	lc := strings.ToLower(command)
	for _, f := range Blocked {
		if strings.Contains(lc, f) {
			return &BlockedError{Command: command, Fragment: f}
		}
	}
	return nil
}
