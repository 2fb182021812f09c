package cmd

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/spf13/pflag"

	"github.com/comanda/chatsync/internal/config"
	"github.com/comanda/chatsync/internal/gateway"
	"github.com/comanda/chatsync/internal/syncengine"
	"github.com/comanda/chatsync/internal/validation"
)

const (
	exitOK      = 0
	exitGeneric = 1
	exitUsage   = 2
	exitAuth    = 3
	exitNetwork = 8
)

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if handled, ok := err.(*handledError); ok {
		if handled.exitCode != 0 {
			return handled.exitCode
		}
		err = handled.err
	}

	switch {
	case errors.Is(err, config.ErrNotConfigured), errors.Is(err, errNotPaired):
		return exitAuth
	case isUsageError(err):
		return exitUsage
	case isNetworkError(err):
		return exitNetwork
	}
	return exitGeneric
}

// errorCode is the stable machine-readable name used in JSON errors.
func errorCode(err error) string {
	switch {
	case errors.Is(err, config.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, errNotPaired):
		return "not_paired"
	case syncengine.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gateway.ErrNotConnected), errors.Is(err, gateway.ErrReconnectExhausted):
		return "not_connected"
	case syncengine.IsGatewayError(err):
		return "gateway_error"
	case isUsageError(err):
		return "usage"
	case isNetworkError(err):
		return "network"
	}
	return "error"
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if syncengine.IsTimeout(err) ||
		errors.Is(err, gateway.ErrNotConnected) ||
		errors.Is(err, gateway.ErrReconnectExhausted) ||
		errors.Is(err, gateway.ErrPingTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "bad handshake")
}

func isUsageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syncengine.ErrEmptyMessage) || errors.Is(err, validation.ErrMessageTooLong) {
		return true
	}
	msg := strings.ToLower(err.Error())
	indicators := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"must be",
		"is required",
		"ambiguous match",
		"no match found",
	}
	for _, indicator := range indicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}
