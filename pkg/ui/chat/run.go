package chat

import (
	"context"
	"fmt"

	"shopchat/pkg/dialogue"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SendFunc forwards one user message and returns the assistant's replies.
type SendFunc func(ctx context.Context, text string) ([]dialogue.BotMessage, error)

// Info is shown in the header of the interactive view.
type Info struct {
	DialogueURL string
	SenderID    string
}

func RunInteractive(ctx context.Context, send SendFunc, info Info) error {
	model := newModel(ctx, send, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithMouseCellMotion())
	_, err := program.Run()
	if err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func RunOneShot(ctx context.Context, send SendFunc, prompt string, info Info) error {
	model := newModel(ctx, send, modeOneShot, prompt, info)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("24")).
		Padding(1, 2)

	return style.Render("Thanks for shopping with us")
}
