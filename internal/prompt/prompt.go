// Package prompt asks interactive questions on a terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/oshokin/releaser/internal/config"
)

var (
	// questionStyle highlights yes/no questions.
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	// inputStyle highlights questions expecting free text.
	inputStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F5C04A"))
	// hintStyle renders defaults and warnings.
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	// headingStyle renders section titles of printed reports.
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C678DD"))
)

// Prompter reads answers line by line.
type Prompter struct {
	// in is the answer source.
	in *bufio.Reader
	// out receives questions.
	out io.Writer
	// assumeYes answers every question with its default.
	assumeYes bool
}

// New creates a prompter. With assumeYes every question is answered with its default without reading in.
func New(in io.Reader, out io.Writer, assumeYes bool) *Prompter {
	return &Prompter{
		in:        bufio.NewReader(in),
		out:       out,
		assumeYes: assumeYes,
	}
}

// Confirm asks a yes/no question. An empty answer or end of input selects def.
// Answers use the same vocabulary as boolean flags; anything else asks again.
func (p *Prompter) Confirm(question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}

	for {
		p.write(questionStyle.Render(question) + " " + hintStyle.Render(hint) + " ")

		if p.assumeYes {
			p.write(formatBool(def) + "\n")

			return def, nil
		}

		answer, eof, err := p.readLine()
		if err != nil {
			return false, err
		}

		if answer == "" {
			return def, nil
		}

		value, err := config.ParseBool(answer)
		if err == nil {
			return value, nil
		}

		if eof {
			return false, err
		}

		p.write(hintStyle.Render(fmt.Sprintf("Please answer yes or no (got %q).", answer)) + "\n")
	}
}

// Ask asks for free text. An empty answer or end of input selects def.
func (p *Prompter) Ask(question, def string) (string, error) {
	p.write(inputStyle.Render(question) + " " + hintStyle.Render("["+def+"]") + " ")

	if p.assumeYes {
		p.write(def + "\n")

		return def, nil
	}

	answer, _, err := p.readLine()
	if err != nil {
		return "", err
	}

	if answer == "" {
		return def, nil
	}

	return answer, nil
}

// Show prints a titled block of text, such as a diff.
func (p *Prompter) Show(title, body string) {
	p.write(headingStyle.Render(title) + "\n")
	p.write(body)

	if body != "" && !strings.HasSuffix(body, "\n") {
		p.write("\n")
	}
}

// readLine returns the next trimmed line and whether the input ended.
func (p *Prompter) readLine() (string, bool, error) {
	line, err := p.in.ReadString('\n')
	if errors.Is(err, io.EOF) {
		if line == "" {
			p.write("\n")
		}

		return strings.TrimSpace(line), true, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("read answer: %w", err)
	}

	return strings.TrimSpace(line), false, nil
}

// write ignores output errors: a closed terminal must not abort a deploy.
func (p *Prompter) write(s string) {
	_, _ = io.WriteString(p.out, s)
}

// formatBool renders an automatic answer.
func formatBool(value bool) string {
	if value {
		return "yes"
	}

	return "no"
}
