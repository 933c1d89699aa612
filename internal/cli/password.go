package cli

import (
	"fmt"
	"os"
	"path"

	"golang.org/x/term"

	"github.com/agent462/drove/internal/config"
)

// askPasswords fills in the password of every selected group that has
// neither a password nor an identity file. Each group is asked once.
func askPasswords(cfg *config.Config, filter string, read func(prompt string) (string, error)) error {
	matchAll := filter == "" || filter == "all"
	for i := range cfg.Inventory {
		g := &cfg.Inventory[i]
		if g.Password != "" || g.IdentityFile != "" {
			continue
		}
		if !matchAll {
			if ok, _ := path.Match(filter, g.Name); !ok {
				continue
			}
		}

		prompt := fmt.Sprintf("Password for group %s", g.Name)
		if g.Username != "" {
			prompt += fmt.Sprintf(" (%s)", g.Username)
		}
		pw, err := read(prompt + ": ")
		if err != nil {
			return fmt.Errorf("reading password for group %q: %w", g.Name, err)
		}
		g.Password = pw
	}
	return nil
}

func terminalPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--ask-pass needs an interactive terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
