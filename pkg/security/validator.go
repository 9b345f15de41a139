package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode"
)

// Default limits for client input.
const (
	DefaultMaxPayloadBytes  = 16 * 1024
	DefaultMaxMessageLength = 4096
	maxDevicePathLength     = 256
)

// Validator checks the shape of untrusted input before it reaches the engine
type Validator struct {
	maxPayloadBytes  int
	maxMessageLength int
}

// NewValidator creates a new input validator
func NewValidator(maxPayloadBytes, maxMessageLength int) *Validator {
	slog.Info("security_validator_init",
		"max_payload_bytes", maxPayloadBytes,
		"max_message_length", maxMessageLength)

	return &Validator{
		maxPayloadBytes:  maxPayloadBytes,
		maxMessageLength: maxMessageLength,
	}
}

// ValidatePayloadSize rejects oversized client frames
func (v *Validator) ValidatePayloadSize(size int) error {
	if size > v.maxPayloadBytes {
		slog.Error("security_payload_size_exceeded", "size", size, "max", v.maxPayloadBytes)
		return fmt.Errorf("security: payload size %d exceeds max %d", size, v.maxPayloadBytes)
	}
	return nil
}

// ValidateDevicePath checks that path names a device node below /dev
func (v *Validator) ValidateDevicePath(path string) error {
	if path == "" {
		return fmt.Errorf("security: empty device path")
	}
	if len(path) > maxDevicePathLength {
		slog.Error("security_device_path_failed", "reason", "too_long", "length", len(path))
		return fmt.Errorf("security: device path too long")
	}
	if strings.IndexFunc(path, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		slog.Error("security_device_path_failed", "path", path, "reason", "invalid_characters")
		return fmt.Errorf("security: invalid characters in device path %q", path)
	}

	// Reject anything that does not stay below /dev once cleaned
	clean := filepath.Clean(path)
	if clean != path || !strings.HasPrefix(clean, "/dev/") || len(clean) == len("/dev/") {
		slog.Error("security_device_path_failed", "path", path, "reason", "outside_dev")
		return fmt.Errorf("security: device path must be a clean path below /dev: %s", path)
	}

	return nil
}

// ValidateCommitMessage checks a message passed to the version control tool
func (v *Validator) ValidateCommitMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("security: empty commit message")
	}
	if len(msg) > v.maxMessageLength {
		slog.Error("security_commit_message_failed", "reason", "too_long", "length", len(msg))
		return fmt.Errorf("security: commit message length %d exceeds max %d", len(msg), v.maxMessageLength)
	}
	// A leading dash would be parsed as an option
	if strings.HasPrefix(msg, "-") {
		slog.Error("security_commit_message_failed", "reason", "leading_dash")
		return fmt.Errorf("security: commit message must not start with '-'")
	}
	if strings.ContainsRune(msg, 0) {
		return fmt.Errorf("security: commit message contains NUL")
	}
	return nil
}

// ValidateObjectKey checks for path traversal in archive object keys
func (v *Validator) ValidateObjectKey(key string) error {
	// Reject absolute paths
	if filepath.IsAbs(key) {
		slog.Error("security_key_validation_failed", "key", key, "reason", "absolute_path")
		return fmt.Errorf("security: absolute key not allowed: %s", key)
	}

	clean := filepath.Clean(key)

	// Reject keys that escape the prefix
	if clean == "." || strings.HasPrefix(clean, "..") {
		slog.Error("security_key_validation_failed", "key", key, "reason", "path_traversal")
		return fmt.Errorf("security: path traversal detected: %s", key)
	}

	return nil
}
