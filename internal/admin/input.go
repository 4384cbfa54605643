package admin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var errEmptyPassword = errors.New("empty password")

// GetPassword prints a password prompt to w and reads a password
// from the terminal without echo.
//
// The returned byte slice should be wiped by the caller when no longer needed.
func GetPassword(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Password: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// readLine reads a single line from r. A last line without a trailing
// newline is returned as is.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret takes the password from the first line of in when fromStdin
// is set, otherwise from an interactive prompt written to prompt.
func readSecret(in io.Reader, prompt io.Writer, fromStdin bool) (string, error) {
	var pw string
	if fromStdin {
		line, err := readLine(in)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = line
	} else {
		b, err := GetPassword(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = string(b)
		common.WipeByteArray(b)
	}
	if pw == "" {
		return "", errEmptyPassword
	}
	return pw, nil
}
