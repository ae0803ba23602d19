package agentloop

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/martinemde/blockbot/commands"
	"github.com/martinemde/blockbot/history"
)

// commandSignature identifies an invocation by name and a hash of its full
// text.
func commandSignature(name, text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// commandSignatures returns signatures of the agent's most recent command
// turns, oldest first.
func commandSignatures(turns []history.Turn, agentName string, count int) []string {
	var sigs []string
	for i := len(turns) - 1; i >= 0 && len(sigs) < count; i-- {
		t := turns[i]
		if t.Source != agentName {
			continue
		}
		if name, ok := commands.ContainsCommand(t.Text); ok {
			sigs = append(sigs, commandSignature(name, t.Text))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the agent's last windowSize commands follow a
// repeating pattern of length 1, 2, or 3.
func DetectLoop(turns []history.Turn, agentName string, windowSize int) bool {
	if windowSize < 2 {
		return false
	}
	sigs := commandSignatures(turns, agentName, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || patternLen == windowSize {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
