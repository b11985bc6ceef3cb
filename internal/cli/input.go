package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/photocatalog/internal/config"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// GetPassword prints prompt to w and reads a secret from the terminal
// without echo.
func GetPassword(prompt string, w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, prompt+": "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// askSecretKey prompts for the S3 secret when an access key is configured
// without one and stdin is a terminal.
func askSecretKey(cfg *config.Config, w io.Writer) error {
	if cfg.Backend != config.BackendS3 || cfg.S3AccessKey == "" || cfg.S3SecretKey != "" {
		return nil
	}
	if !isTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	secret, err := GetPassword("S3 secret key", w)
	if err != nil {
		return fmt.Errorf("read secret key: %w", err)
	}
	cfg.S3SecretKey = strings.TrimSpace(string(secret))
	clear(secret)
	return nil
}
