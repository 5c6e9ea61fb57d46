// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package override

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// =============================================================================
// CODE PROMPT
// =============================================================================

// PromptCode reads a verification code from stdin without echoing it.
// When stdin is not a terminal (piped input, scripted runs) it falls back
// to reading a plain line.
func PromptCode(prompt string) (string, error) {
	fmt.Print(prompt)

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return readCodeLine(os.Stdin)
	}

	code, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	fmt.Println() // Add newline after hidden input

	return strings.TrimSpace(string(code)), nil
}

// readCodeLine reads a single trimmed line from r.
func readCodeLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("failed to read code: %w", err)
		}
		return "", ErrCodeRequired
	}
	return strings.TrimSpace(scanner.Text()), nil
}
