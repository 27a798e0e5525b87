package clipboard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onPath(names ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, n := range names {
			if n == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func TestSelectCommand(t *testing.T) {
	cases := []struct {
		name     string
		goos     string
		path     []string
		wantPath string
		wantArgs []string
	}{
		{"darwin", "darwin", []string{"pbcopy"}, "/usr/bin/pbcopy", nil},
		{"linux prefers wl-copy", "linux", []string{"wl-copy", "xclip"}, "/usr/bin/wl-copy", nil},
		{"linux falls back to xclip", "linux", []string{"xclip", "xsel"}, "/usr/bin/xclip", []string{"-selection", "clipboard"}},
		{"linux falls back to xsel", "linux", []string{"xsel"}, "/usr/bin/xsel", []string{"--clipboard", "--input"}},
		{"windows", "windows", []string{"clip.exe"}, "/usr/bin/clip.exe", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := SelectCommand(tc.goos, onPath(tc.path...))
			require.NoError(t, err)
			assert.Equal(t, tc.wantPath, cmd.Path)
			assert.Equal(t, tc.wantArgs, cmd.Args)
		})
	}
}

func TestSelectCommandUnavailable(t *testing.T) {
	_, err := SelectCommand("linux", onPath())
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, err = SelectCommand("plan9", onPath("pbcopy"))
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestCopierPipesText(t *testing.T) {
	var gotCmd Command
	var gotText string
	c := &Copier{
		goos:     "darwin",
		lookPath: onPath("pbcopy"),
		run: func(_ context.Context, cmd Command, stdin string) error {
			gotCmd, gotText = cmd, stdin
			return nil
		},
	}
	require.NoError(t, c.Copy(context.Background(), "Thirty days."))
	assert.Equal(t, "/usr/bin/pbcopy", gotCmd.Path)
	assert.Equal(t, "Thirty days.", gotText)
}

func TestCopierRejectsBlank(t *testing.T) {
	c := &Copier{goos: "darwin", lookPath: onPath("pbcopy"), run: func(context.Context, Command, string) error {
		t.Fatal("run should not be called")
		return nil
	}}
	assert.Error(t, c.Copy(context.Background(), "  \n"))
}
