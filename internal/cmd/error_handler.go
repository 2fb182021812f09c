package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/comanda/chatsync/internal/config"
	"github.com/comanda/chatsync/internal/gateway"
	"github.com/comanda/chatsync/internal/resolve"
	"github.com/comanda/chatsync/internal/syncengine"
)

// HandleError processes an error and returns a user-friendly message with suggestions
func HandleError(err error) string {
	if err == nil {
		return ""
	}

	var msg strings.Builder
	var ambiguous *resolve.AmbiguousError
	var gwErr *syncengine.GatewayError

	switch {
	case errors.Is(err, config.ErrNotConfigured):
		msg.WriteString("No gateway credentials found.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: chatsync auth login --url wss://... --token ...\n")
		msg.WriteString("  - Or export CHATSYNC_GATEWAY_URL and CHATSYNC_TOKEN\n")

	case errors.Is(err, errNotPaired):
		msg.WriteString("The gateway session is not paired with a phone.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Run: chatsync run, then scan the pairing code\n")

	case errors.Is(err, gateway.ErrReconnectExhausted):
		fmt.Fprintf(&msg, "Lost the gateway connection: %s\n\n", err)
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check that the gateway is running\n")
		msg.WriteString("  - Type /connect in the console to try again\n")

	case errors.Is(err, gateway.ErrNotConnected):
		msg.WriteString("Not connected to the gateway.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the gateway URL: chatsync auth status\n")

	case syncengine.IsTimeout(err):
		fmt.Fprintf(&msg, "Timed out: %s\n\n", err)
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - The gateway may be slow or the phone offline\n")
		msg.WriteString("  - Retry, or raise --timeout\n")

	case errors.As(err, &gwErr):
		fmt.Fprintf(&msg, "The gateway rejected the request: %s\n", err)

	case errors.As(err, &ambiguous):
		fmt.Fprintf(&msg, "%s\n\n", ambiguous.Error())
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Use the conversation ID instead\n")
		msg.WriteString("  - Run: chatsync conversations find <name>\n")

	case strings.Contains(err.Error(), "connection refused"):
		msg.WriteString("Connection refused.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check if the gateway is running\n")
		msg.WriteString("  - Verify the URL: chatsync auth status\n")

	case strings.Contains(err.Error(), "no such host"):
		msg.WriteString("DNS resolution failed.\n\n")
		msg.WriteString("Suggestions:\n")
		msg.WriteString("  - Check the gateway URL spelling\n")

	default:
		fmt.Fprintf(&msg, "Error: %s\n", err.Error())
	}

	return msg.String()
}
