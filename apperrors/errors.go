package apperrors

import (
	"errors"
	"fmt"
	"time"
)

type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so the sentinels below work
// with errors.Is regardless of message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

const (
	CodeNotFound              = "NOT_FOUND"
	CodeOwnershipFetch        = "OWNERSHIP_FETCH_ERROR"
	CodeOutOfOrderSnapshot    = "OUT_OF_ORDER_SNAPSHOT"
	CodeRestorationValidation = "RESTORATION_VALIDATION_ERROR"
	CodeValidation            = "VALIDATION_ERROR"
	CodeInsufficientGold      = "INSUFFICIENT_GOLD"
	CodeRunInProgress         = "RUN_IN_PROGRESS"
	CodeBackupIntegrity       = "BACKUP_INTEGRITY_ERROR"
	CodeConfigLoad            = "CONFIG_LOAD_ERROR"
	CodeDatabase              = "DATABASE_ERROR"
)

var (
	ErrNotFound              = &AppError{Code: CodeNotFound}
	ErrOwnershipFetch        = &AppError{Code: CodeOwnershipFetch}
	ErrOutOfOrderSnapshot    = &AppError{Code: CodeOutOfOrderSnapshot}
	ErrRestorationValidation = &AppError{Code: CodeRestorationValidation}
	ErrValidation            = &AppError{Code: CodeValidation}
	ErrInsufficientGold      = &AppError{Code: CodeInsufficientGold}
	ErrRunInProgress         = &AppError{Code: CodeRunInProgress}
	ErrBackupIntegrity       = &AppError{Code: CodeBackupIntegrity}
)

func NotFound(kind, id string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s %q not found", kind, id), nil)
}

func OwnershipFetch(wallet string, err error) *AppError {
	return New(CodeOwnershipFetch, fmt.Sprintf("ownership fetch failed for wallet %s", wallet), err)
}

func OutOfOrderSnapshot(wallet string, at, last time.Time) *AppError {
	return New(CodeOutOfOrderSnapshot, fmt.Sprintf(
		"snapshot for wallet %s at %s precedes last snapshot %s",
		wallet, at.UTC().Format(time.RFC3339), last.UTC().Format(time.RFC3339),
	), nil)
}

func RestorationValidation(message string) *AppError {
	return New(CodeRestorationValidation, message, nil)
}

func Validation(message string) *AppError {
	return New(CodeValidation, message, nil)
}

func InsufficientGold(wallet, requested, available string) *AppError {
	return New(CodeInsufficientGold, fmt.Sprintf(
		"wallet %s cannot spend %s gold, only %s available", wallet, requested, available,
	), nil)
}

func Database(op string, err error) *AppError {
	return New(CodeDatabase, op, err)
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
