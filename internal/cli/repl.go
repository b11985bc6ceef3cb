package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies it;
// tests provide a stub.
type execIface interface {
	Star(ctx context.Context, args []string) error
	Unstar(ctx context.Context, args []string) error
	Check(ctx context.Context, args []string) error
	Export(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
	Checkpoints(ctx context.Context) error
	Resume(ctx context.Context, args []string) error
}

const helpText = "Available commands: star <path>..., unstar <path>..., check <path>, " +
	"export <dir> [hash...], sync, status, checkpoints, resume [id], exit"

// runREPL reads commands from scanner until EOF or "exit". Handler errors
// are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("photocatalog %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn(helpText)
		case "star":
			err = a.Star(ctx, args)
		case "unstar":
			err = a.Unstar(ctx, args)
		case "check":
			err = a.Check(ctx, args)
		case "export":
			err = a.Export(ctx, args)
		case "sync":
			err = a.Sync(ctx)
		case "st", "status":
			err = a.Status(ctx)
		case "checkpoints":
			err = a.Checkpoints(ctx)
		case "resume":
			err = a.Resume(ctx, args)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
