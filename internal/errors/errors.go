package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// DestinationError enhances destination-specific errors with context.
// The underlying message is kept in Details so status trails still
// show the root cause.
func DestinationError(destination string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s destination error during %s", destination, operation),
		Suggestion: getDestinationSuggestion(destination, err),
		Details:    err.Error(),
		Err:        err,
	}
}

// getDestinationSuggestion returns helpful suggestions based on destination and error
func getDestinationSuggestion(destination string, err error) string {
	errStr := err.Error()

	switch destination {
	case "1password", "onepassword":
		if strings.Contains(errStr, "401") || strings.Contains(errStr, "invalid bearer token") {
			return "Verify the Connect API token is valid and has access to the vault"
		}
		if strings.Contains(errStr, "404") {
			return "Verify the vault ID exists. List vaults via GET /v1/vaults on the Connect server"
		}
	case "aws-secrets-manager":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials or check the assumed role"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue and secretsmanager:PutSecretValue"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. The job will be retried with backoff"
		}
	}

	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check network connectivity to the destination"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check the destination host configuration"
	}

	return ""
}

// unrecoverableError marks a failure that retrying cannot fix, such as
// rejected credentials or a malformed rotation parameter set.
type unrecoverableError struct {
	err error
}

func (e unrecoverableError) Error() string {
	return "unrecoverable: " + e.err.Error()
}

func (e unrecoverableError) Unwrap() error {
	return e.err
}

// Unrecoverable wraps err so that IsUnrecoverable reports true for it.
// Queues use this to skip remaining retry attempts.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err or any error it wraps was marked
// with Unrecoverable.
func IsUnrecoverable(err error) bool {
	var ue unrecoverableError
	return errors.As(err, &ue)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil || IsUnrecoverable(err) {
		return false
	}

	errStr := err.Error()
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(strings.ToLower(errStr), pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}

// Truncate caps a message at max runes for storage in status columns.
func Truncate(msg string, max int) string {
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	return string(runes[:max])
}
