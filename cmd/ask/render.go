package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

var (
	headerColor   = color.New(color.FgCyan, color.Bold)
	warnColor     = color.New(color.FgYellow)
	citationColor = color.New(color.FgGreen)
	dimColor      = color.New(color.Faint)
)

func render(w io.Writer, answer *domain.Answer) {
	if answer.RequiresClarification {
		warnColor.Fprintln(w, "Clarification needed:")
		fmt.Fprintln(w, answer.ClarifyingQuestion)
		for _, f := range answer.SuggestedFilters {
			line := "  - " + f.Field
			if f.Value != "" {
				line += "=" + f.Value
			}
			if f.Hint != "" {
				line += " (" + f.Hint + ")"
			}
			fmt.Fprintln(w, line)
		}
		return
	}

	headerColor.Fprintf(w, "[%s] confidence %.2f\n", answer.Task, answer.Confidence)
	if answer.Degraded || answer.Partial {
		marker := "degraded"
		if answer.Partial {
			marker = "partial"
		}
		if answer.Reason != domain.ReasonNone {
			marker += ": " + string(answer.Reason)
		}
		warnColor.Fprintf(w, "(%s)\n", marker)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimSpace(answer.Text))

	if len(answer.Citations) > 0 {
		fmt.Fprintln(w)
		headerColor.Fprintln(w, "Sources:")
		for i, c := range answer.Citations {
			name := c.DisplayName
			if name == "" {
				name = c.DocumentID
			}
			ref := name
			if c.Page != nil {
				ref = fmt.Sprintf("%s p.%d", name, *c.Page)
			}
			citationColor.Fprintf(w, "  [%d] %s\n", i+1, ref)
			if c.Snippet != "" {
				dimColor.Fprintf(w, "      %q\n", c.Snippet)
			}
		}
	}

	if answer.Coverage != nil && len(answer.Coverage.Unsupported) > 0 {
		fmt.Fprintln(w)
		warnColor.Fprintf(w, "%d of %d sentences lack support in the cited evidence\n", len(answer.Coverage.Unsupported), answer.Coverage.Sentences)
	}
}
