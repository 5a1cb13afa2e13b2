package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapSimError wraps simulation file errors with user-friendly context
func WrapSimError(err error, simPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Simulation file error in %s", simPath),
		Reason:  err.Error(),
		Hint:    "Simulation files are YAML documents keyed by ECU identifier; request keys are hex byte patterns",
		Try:     fmt.Sprintf("Validate the directory: ecusim validate-sim --sims %s", filepath.Dir(simPath)),
		Err:     err,
	}
}

// WrapSocketError wraps CAN socket errors with user-friendly context
func WrapSocketError(err error, device string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to open CAN socket on %s", device),
		Reason:  extractSocketReason(err),
		Hint:    "ISO-TP and J1939 need the can-isotp and can-j1939 kernel modules and an up interface",
		Try:     fmt.Sprintf("ip link show %s", device),
		Err:     err,
	}
}

// WrapDoipError wraps DoIP server errors with user-friendly context
func WrapDoipError(err error) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: "DoIP server failed",
		Reason:  extractSocketReason(err),
		Hint:    "The DoIP server binds UDP and TCP port 13400; another gateway may already be running",
		Err:     err,
	}
}

func extractSocketReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "no such device") || strings.Contains(errStr, "no such network interface") {
		return "Interface not found - the CAN device does not exist"
	}
	if strings.Contains(errStr, "protocol not supported") || strings.Contains(errStr, "address family not supported") {
		return "Socket family unavailable - kernel CAN protocol module not loaded"
	}
	if strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "operation not permitted") {
		return "Permission denied - raw CAN sockets usually need elevated privileges"
	}
	if strings.Contains(errStr, "address already in use") {
		return "Address already in use - another process holds the port or address"
	}
	if strings.Contains(errStr, "network is down") {
		return "Network is down - bring the interface up first"
	}

	return "Socket operation failed"
}
