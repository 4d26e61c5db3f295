package erpdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// UnavailableError signals that the operator's ERP database cannot be
// reached. It maps to a 503 at the API boundary and is never retried
// automatically within a request.
type UnavailableError struct {
	Reason string
	Cause  error
}

func NewUnavailableError(reason string, cause error) *UnavailableError {
	return &UnavailableError{Reason: reason, Cause: cause}
}

func (e *UnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ERP database unavailable: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("ERP database unavailable: %s", e.Reason)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

func (e *UnavailableError) StatusCode() int { return 503 }

// IsUnavailable reports whether err is (or wraps) an UnavailableError.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}

// IsConnectionError classifies driver/network failures that mean the ERP
// server is unreachable rather than a query being wrong.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if IsUnavailable(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1045 access denied, 1044 db access denied, 2003-class handled by net.Error.
		return mysqlErr.Number == 1045 || mysqlErr.Number == 1044
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "invalid connection") ||
		strings.Contains(msg, "bad connection")
}

// FormatConnectionError renders an operator-friendly line for sync logging.
func FormatConnectionError(err error, syncType string) string {
	tag := strings.ToUpper(syncType)
	msg := err.Error()
	switch {
	case strings.Contains(msg, "i/o timeout") || errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("[SYNC %s] ERP database did not respond (timeout). Check that the server is running.", tag)
	case strings.Contains(msg, "connection refused"):
		return fmt.Sprintf("[SYNC %s] Could not connect to the ERP database. The server may be down.", tag)
	default:
		return fmt.Sprintf("[SYNC %s] ERP database connection error: %v", tag, err)
	}
}
