package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	calls []string
	err   error
}

func (f *fakeExec) record(name string, args []string) error {
	f.calls = append(f.calls, strings.TrimSpace(name+" "+strings.Join(args, " ")))
	return f.err
}

func (f *fakeExec) Star(ctx context.Context, args []string) error   { return f.record("star", args) }
func (f *fakeExec) Unstar(ctx context.Context, args []string) error { return f.record("unstar", args) }
func (f *fakeExec) Check(ctx context.Context, args []string) error  { return f.record("check", args) }
func (f *fakeExec) Export(ctx context.Context, args []string) error { return f.record("export", args) }
func (f *fakeExec) Sync(ctx context.Context) error                  { return f.record("sync", nil) }
func (f *fakeExec) Status(ctx context.Context) error                { return f.record("status", nil) }
func (f *fakeExec) Checkpoints(ctx context.Context) error           { return f.record("checkpoints", nil) }
func (f *fakeExec) Resume(ctx context.Context, args []string) error { return f.record("resume", args) }

func captureOutput(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, fmt.Sprintln(a...))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	out := captureOutput(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"star a.jpg b.jpg",
		"",
		"unstar a.jpg",
		"check b.jpg",
		"export /tmp/out",
		"sync",
		"st",
		"checkpoints",
		"resume 42",
		"foobar",
		"exit",
		"star never.jpg",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "(status)" }, bufio.NewScanner(input))

	assert.Equal(t, []string{
		"star a.jpg b.jpg",
		"unstar a.jpg",
		"check b.jpg",
		"export /tmp/out",
		"sync",
		"status",
		"checkpoints",
		"resume 42",
	}, exec.calls)

	joined := strings.Join(*out, "")
	assert.Contains(t, joined, "Available commands")
	assert.Contains(t, joined, "Unknown command: foobar")
	assert.Contains(t, joined, "photocatalog (status) >")
	assert.Contains(t, joined, "Bye!")
}

func TestRunREPL_PrintsErrorsAndContinues(t *testing.T) {
	out := captureOutput(t)

	exec := &fakeExec{err: errors.New("remote unreachable")}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("sync\nstatus\n")))

	assert.Equal(t, []string{"sync", "status"}, exec.calls)
	assert.Contains(t, strings.Join(*out, ""), "Error: remote unreachable")
}
