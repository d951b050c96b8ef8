package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/onephotolife/tagserve/pkg/controller"
)

var (
	tagStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	keyStyle = lipgloss.NewStyle().Faint(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#9893a5", Dark: "#6e6a86"})
)

// renderTag shows the author spelling, with the normalized key behind
// it when the two differ.
func renderTag(item controller.Item) string {
	display := tagStyle.Render("#" + item.Display)
	if item.Display == item.Key {
		return display
	}
	return fmt.Sprintf("%s %s", display, keyStyle.Render("("+item.Key+")"))
}
