package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrInvalidConversationID indicates a client-supplied conversation ID is malformed.
	ErrInvalidConversationID = errors.New("invalid conversation ID")

	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

const maxConversationIDLen = 128

// Conversation IDs end up in NATS subjects and SQL rows, so dots,
// wildcards and whitespace are excluded.
var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateConversationID checks a client-supplied conversation ID.
func ValidateConversationID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidConversationID)
	}
	if len(id) > maxConversationIDLen {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidConversationID, maxConversationIDLen)
	}
	if !conversationIDPattern.MatchString(id) {
		return fmt.Errorf("%w: must be alphanumeric, hyphen or underscore", ErrInvalidConversationID)
	}
	return nil
}

// ValidatePath rejects traversal and returns the cleaned absolute path.
// If allowedRoot is non-empty the path must resolve inside it.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}

	return absPath, nil
}
