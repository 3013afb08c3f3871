// Package mock answers without any network access.
package mock

import (
	"fmt"

	"aichat/internal/providers"
)

const note = "This is a mock response; no provider was called."

// Respond returns the same answer for the same tool and prompt every time.
func Respond(tool providers.ToolID, prompt string) providers.Normalized {
	return providers.Normalized{
		Tool:     tool,
		Response: fmt.Sprintf("This is a mock response from %s for your query: %q", tool, prompt),
		RawResponse: map[string]any{
			"note": note,
			"tool": string(tool),
		},
	}
}
