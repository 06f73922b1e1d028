package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoCredential is returned when no API key was entered.
var ErrNoCredential = errors.New("no API key provided")

// ReadCredential asks for the API key on out. Input from a terminal is not
// echoed; anything else is read as a plain line.
func ReadCredential(in *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter your API key: ")

	var raw string
	if term.IsTerminal(int(in.Fd())) {
		secret, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		raw = string(secret)
	} else {
		line, err := readLine(in)
		if err != nil {
			return "", fmt.Errorf("reading API key: %w", err)
		}
		raw = line
	}

	credential := strings.TrimSpace(raw)
	if credential == "" {
		return "", ErrNoCredential
	}
	return credential, nil
}

// readLine reads up to the next newline one byte at a time so nothing past
// it is consumed from r.
func readLine(r io.Reader) (string, error) {
	var b strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return b.String(), nil
			}
			b.WriteByte(buf[0])
		}
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
	}
}
