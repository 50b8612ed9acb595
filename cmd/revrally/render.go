package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/revrally/revrally/internal/agent"
)

var styled = isatty.IsTerminal(os.Stdout.Fd())

var (
	styleState   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	styleTool    = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleGood    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleBad     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	stylePrompt  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	styleSection = lipgloss.NewStyle().Bold(true)
)

func render(style lipgloss.Style, s string) string {
	if !styled {
		return s
	}
	return style.Render(s)
}

func renderOutcome(s string, good bool) string {
	if good {
		return render(styleGood, s)
	}
	return render(styleBad, s)
}

func renderPromptLine(s string) string { return render(stylePrompt, s) }

// printEvent renders one streamed rally event as a log line.
func printEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventIterationStarted:
		fmt.Printf("\n%s\n", render(styleSection, fmt.Sprintf("=== Iteration %d ===", ev.Iteration)))
	case agent.EventStateChanged:
		fmt.Printf("%s %s\n", render(styleState, "state:"), ev.State)
	case agent.EventThinking:
		if text := strings.TrimSpace(ev.Text); text != "" {
			fmt.Printf("%s %s\n", render(styleDim, ev.Role+" thinking:"), render(styleDim, clip(text, 160)))
		}
	case agent.EventText:
		if text := strings.TrimSpace(ev.Text); text != "" {
			fmt.Printf("%s %s\n", render(styleDim, ev.Role+":"), clip(text, 400))
		}
	case agent.EventToolUse:
		fmt.Printf("%s %s %s\n", render(styleTool, ev.Role+" tool:"), ev.Tool, render(styleDim, clip(ev.Text, 120)))
	case agent.EventReviewCompleted:
		fmt.Printf("%s %s: %s\n", render(styleSection, "review"), ev.Action, clip(ev.Text, 300))
	case agent.EventFixCompleted:
		fmt.Printf("%s %s: %s\n", render(styleSection, "fix"), ev.Action, clip(ev.Text, 300))
	case agent.EventLog:
		fmt.Printf("%s\n", render(styleDim, clip(ev.Text, 200)))
	}
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
