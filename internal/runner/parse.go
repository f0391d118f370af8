package runner

import (
	"strings"

	"github.com/csk-next/csk/internal/clierr"
)

// ParseCommands splits each raw command string into an argv using shell
// word-splitting rules, rejecting any command that uses a pipe — gates run
// argv lists directly via exec, never through a shell, so a `|` can only
// ever be a literal argument the user didn't intend.
func ParseCommands(raw []string) ([][]string, error) {
	var out [][]string
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		argv, err := splitWords(line)
		if err != nil {
			return nil, err
		}
		for _, tok := range argv {
			if tok == "|" {
				return nil, clierr.Newf(clierr.VerifyPolicyReject, "pipes are not permitted in gate commands: %q", line)
			}
		}
		out = append(out, argv)
	}
	return out, nil
}

// splitWords implements shell-style word splitting with single and double
// quote support, equivalent in scope to Python's shlex.split for the
// command strings gate configs use.
func splitWords(s string) ([]string, error) {
	var words []string
	var cur strings.Builder
	inWord := false
	var quote byte

	flush := func() {
		if inWord {
			words = append(words, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == ' ' || c == '\t':
			flush()
		default:
			inWord = true
			cur.WriteByte(c)
		}
		i++
	}
	if quote != 0 {
		return nil, clierr.Newf(clierr.VerifyPolicyReject, "unterminated quote in command: %q", s)
	}
	flush()
	return words, nil
}
