package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// prompter reads answers to interactive questions. Passwords are read
// without echo when stdin is a terminal.
type prompter struct {
	in     io.Reader
	reader *bufio.Reader
	w      io.Writer
}

func newPrompter(in io.Reader, w io.Writer) *prompter {
	return &prompter{in: in, reader: bufio.NewReader(in), w: w}
}

// Text prints prompt and reads one trimmed line. A partial line before
// EOF is returned as is.
func (p *prompter) Text(prompt string) (string, error) {
	if _, err := fmt.Fprintf(p.w, "%s: ", prompt); err != nil {
		return "", err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Required repeats Text until the answer is not blank.
func (p *prompter) Required(prompt string) (string, error) {
	for {
		s, err := p.Text(prompt)
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
		fmt.Fprintln(p.w, "a value is required")
	}
}

// Password reads a password. The caller wipes the returned slice.
func (p *prompter) Password(prompt string) ([]byte, error) {
	if _, err := fmt.Fprintf(p.w, "%s: ", prompt); err != nil {
		return nil, err
	}
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(p.w)
		return pw, err
	}
	s, err := p.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(s) > 0) {
		return nil, err
	}
	return []byte(strings.TrimRight(s, "\r\n")), nil
}

// valueOr returns v, or asks for it when v is empty.
func (p *prompter) valueOr(v, prompt string) (string, error) {
	if v != "" {
		return v, nil
	}
	return p.Required(prompt)
}
