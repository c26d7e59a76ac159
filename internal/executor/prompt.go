package executor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/VladislavFirsov/longrun/contracts"
)

// RenderPrompt turns a structured worker request into the textual prompt
// handed to the worker. Sections appear in a fixed order so identical
// requests render identically.
func RenderPrompt(req *contracts.WorkerRequest) string {
	var b strings.Builder

	if req.Role != "" {
		fmt.Fprintf(&b, "You are %s.\n\n", req.Role)
	}
	fmt.Fprintf(&b, "## Task\n\n%s\n", req.Task)

	if len(req.Context) > 0 {
		data, err := json.MarshalIndent(req.Context, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "\n## Context\n\n```json\n%s\n```\n", data)
		}
	}

	if len(req.Instructions) > 0 {
		b.WriteString("\n## Instructions\n\n")
		for i, inst := range req.Instructions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, inst)
		}
	}

	if req.OutputFormat != "" {
		fmt.Fprintf(&b, "\n## Output format\n\n%s\n", req.OutputFormat)
	}

	return b.String()
}
