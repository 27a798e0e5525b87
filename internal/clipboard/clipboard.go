// Package clipboard copies text to the system clipboard through the
// platform's command-line tool.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

var ErrToolNotFound = errors.New("clipboard tool not found")

type Command struct {
	Path string
	Args []string
}

type candidate struct {
	name string
	args []string
}

// Tools are tried in order; the first one on PATH wins.
var platformTools = map[string][]candidate{
	"darwin": {{name: "pbcopy"}},
	"linux": {
		{name: "wl-copy"},
		{name: "xclip", args: []string{"-selection", "clipboard"}},
		{name: "xsel", args: []string{"--clipboard", "--input"}},
	},
	"windows": {{name: "clip.exe"}},
}

func SelectCommand(goos string, lookPath func(string) (string, error)) (Command, error) {
	for _, c := range platformTools[goos] {
		path, err := lookPath(c.name)
		if err != nil {
			continue
		}
		return Command{Path: path, Args: c.args}, nil
	}
	return Command{}, fmt.Errorf("%w on %s", ErrToolNotFound, goos)
}

// Copier pipes text into the selected tool. The zero value is not usable;
// use New.
type Copier struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, cmd Command, stdin string) error
}

func New() *Copier {
	return &Copier{goos: runtime.GOOS, lookPath: exec.LookPath, run: runCommand}
}

func (c *Copier) Copy(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("nothing to copy")
	}
	cmd, err := SelectCommand(c.goos, c.lookPath)
	if err != nil {
		return err
	}
	return c.run(ctx, cmd, text)
}

// Copy uses the default Copier.
func Copy(ctx context.Context, text string) error {
	return New().Copy(ctx, text)
}

func runCommand(ctx context.Context, def Command, text string) error {
	cmd := exec.CommandContext(ctx, def.Path, def.Args...)
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("clipboard command failed: %w: %s", err, msg)
		}
		return fmt.Errorf("clipboard command failed: %w", err)
	}
	return nil
}
