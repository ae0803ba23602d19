package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

const (
	DefaultMaxOutputChars = 4000
	DefaultMaxOutputLines = 64
)

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Command output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Command output was truncated. %d characters were removed from the middle.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateCommandOutput bounds a command result before it enters history:
// characters first, then lines.
func TruncateCommandOutput(output string, maxChars, maxLines int) string {
	return TruncateLines(TruncateOutput(output, maxChars, TruncateHeadTail), maxLines)
}
