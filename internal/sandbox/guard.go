package sandbox

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxCommandLength is the longest command, in characters after trimming,
// that the filter accepts.
const MaxCommandLength = 1000

// deniedCommand pairs a deny-list check with the reason reported to callers.
type deniedCommand struct {
	matches func(string) bool
	reason  string
}

func pattern(expr string) func(string) bool {
	return regexp.MustCompile(expr).MatchString
}

// deniedCommands is checked against every command before execution. The list
// is advisory: the container envelope is the isolation boundary, not this.
var deniedCommands = []deniedCommand{
	// Recursive force-delete of the root filesystem
	{deletesRoot, "recursive force-delete of /"},
	{pattern(`(?i)\brm\s+.*--no-preserve-root`), "rm with --no-preserve-root"},

	// Fork bomb
	{pattern(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},

	// Filesystem formatting (mkfs, mkfs.ext4, ...)
	{pattern(`(?i)\bmkfs`), "filesystem format utility"},

	// Raw block-device writes
	{pattern(`(?i)\bdd\s+.*\bif=.*\bof=/dev/`), "dd write to a device"},

	// Remote download piped into a shell
	{pattern(`(?i)\bcurl\b.*\|\s*(sudo\s+)?(ba)?sh\b`), "curl piped to shell"},
	{pattern(`(?i)\bwget\b.*\|\s*(sudo\s+)?(ba)?sh\b`), "wget piped to shell"},
}

// rmRootPattern matches rm with one or more option words followed by / or /*.
// The option words are captured so recursive and force can be checked apart,
// whether they are grouped (-rf) or split (-r -f).
var rmRootPattern = regexp.MustCompile(`(?i)\brm((?:\s+-{1,2}[a-z-]*)+)\s+/\*?(?:\s|;|&|\||$)`)

func deletesRoot(command string) bool {
	for _, m := range rmRootPattern.FindAllStringSubmatch(command, -1) {
		var recursive, force bool
		for _, opt := range strings.Fields(strings.ToLower(m[1])) {
			switch {
			case opt == "--recursive":
				recursive = true
			case opt == "--force":
				force = true
			case strings.HasPrefix(opt, "--"):
			default:
				recursive = recursive || strings.ContainsRune(opt, 'r')
				force = force || strings.ContainsRune(opt, 'f')
			}
		}
		if recursive && force {
			return true
		}
	}
	return false
}

// FilterCommand validates a command before execution. It returns the trimmed
// command, an ErrValidation error for empty or oversized input, or a
// *BlockedCommandError for a deny-listed command.
func FilterCommand(command string) (string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", ErrEmptyCommand
	}
	if n := utf8.RuneCountInString(command); n > MaxCommandLength {
		return "", fmt.Errorf("%w (%d characters, limit is %d)", ErrCommandTooLong, n, MaxCommandLength)
	}

	for _, denied := range deniedCommands {
		if denied.matches(command) {
			return "", &BlockedCommandError{Command: command, Reason: denied.reason}
		}
	}

	return command, nil
}
