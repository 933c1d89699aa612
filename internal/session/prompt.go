package session

import (
	"regexp"
	"strings"
)

var (
	// promptRE accepts any trailing shell prompt: #, $ or > as the last
	// non-blank character received.
	promptRE = regexp.MustCompile(`[#$>][ \t]*$`)

	loginRE    = regexp.MustCompile(`(?i)(login|username|user name)[ \t]*:[ \t]*$`)
	passwordRE = regexp.MustCompile(`(?i)password[ \t]*:[ \t]*$`)
	rejectRE   = regexp.MustCompile(`(?i)(login incorrect|authentication failed|access denied|invalid (password|login)|bad password)`)
)

func matchRE(re *regexp.Regexp) matcher {
	return func(text string) bool { return re.MatchString(text) }
}

// promptAfter matches the prompt that follows a command's output. While the
// echo of the command is still arriving on its first line, a '>' or '$'
// inside the command itself is not taken for a prompt.
func promptAfter(command string) matcher {
	cmd := strings.TrimSpace(command)
	return func(text string) bool {
		if !promptRE.MatchString(text) {
			return false
		}
		if !strings.ContainsAny(text, "\r\n") && strings.HasPrefix(cmd, strings.TrimSpace(text)) {
			return false
		}
		return true
	}
}

// cleanOutput turns the raw terminal text received after a command into its
// output: line endings normalized, the echoed command and the trailing prompt
// dropped, surrounding whitespace trimmed.
func cleanOutput(text, command string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")

	if cmd := strings.TrimSpace(command); len(lines) > 1 && cmd != "" &&
		strings.HasSuffix(strings.TrimSpace(lines[0]), cmd) {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && promptRE.MatchString(lines[n-1]) {
		lines = lines[:n-1]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
