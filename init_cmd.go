package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/tonimelisma/fichier-sync/internal/config"
)

// errInitAborted is returned when the user declines to overwrite an
// existing config file.
var errInitAborted = errors.New("init aborted, existing config left unchanged")

// prompter reads answers line by line. Passwords are read without echo when
// the input is a terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal fd for password input, or -1
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{in: bufio.NewReader(in), out: out, fd: -1}

	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		p.fd = int(f.Fd())
	}

	return p
}

// ask prints label with the default in brackets and returns the trimmed
// answer, or def when the answer is empty.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}

	if answer := strings.TrimSpace(line); answer != "" {
		return answer, nil
	}

	return def, nil
}

// askSecret reads a value without echo on a terminal. The answer is not
// trimmed beyond the line ending, since passwords may contain spaces.
func (p *prompter) askSecret(label string) (string, error) {
	if p.fd < 0 {
		fmt.Fprintf(p.out, "%s: ", label)

		line, err := p.in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
		}

		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprintf(p.out, "%s: ", label)

	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)

	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}

	return string(b), nil
}

// runInit captures every config field interactively and writes the file.
func runInit(in io.Reader, out io.Writer, path string) error {
	p := newPrompter(in, out)

	if _, err := os.Stat(path); err == nil {
		answer, err := p.ask(fmt.Sprintf("%s exists, overwrite? (y/N)", path), "")
		if err != nil {
			return err
		}

		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			return errInitAborted
		}
	}

	cfg, err := captureConfig(p)
	if err != nil {
		return err
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}

	if err := config.Write(path, cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "Config written to %s\n", path)

	return nil
}

func captureConfig(p *prompter) (*config.Config, error) {
	cfg := config.DefaultConfig()

	var err error

	if cfg.Email, err = p.ask("Email", ""); err != nil {
		return nil, err
	}

	if cfg.Password, err = p.askSecret("Password"); err != nil {
		return nil, err
	}

	if cfg.DownloadPath, err = p.ask("Download path", cfg.DownloadPath); err != nil {
		return nil, err
	}

	if cfg.Directory, err = p.ask("Remote directory to watch", ""); err != nil {
		return nil, err
	}

	if cfg.Done, err = p.ask("Archive directory name", ""); err != nil {
		return nil, err
	}

	delay, err := p.ask("Delay between cycles in seconds", strconv.Itoa(cfg.Delay))
	if err != nil {
		return nil, err
	}

	if cfg.Delay, err = strconv.Atoi(delay); err != nil {
		return nil, fmt.Errorf("delay: %q is not a number", delay)
	}

	if cfg.DirectoryLookup, err = p.ask("Directory lookup (global or parent)", cfg.DirectoryLookup); err != nil {
		return nil, err
	}

	return cfg, nil
}
