package grants

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bnema/venue-concierge/internal/domain"
)

type listingBuiltMsg string

// listingModel builds the listing off the update loop and quits as soon as
// the text is ready.
type listingModel struct {
	build   func() string
	listing string
}

func (m listingModel) Init() tea.Cmd {
	build := m.build
	return func() tea.Msg {
		return listingBuiltMsg(build())
	}
}

func (m listingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if built, ok := msg.(listingBuiltMsg); ok {
		m.listing = string(built)
		return m, tea.Quit
	}
	return m, nil
}

func (m listingModel) View() string { return m.listing }

// Render lays out grant requests as a styled listing.
func Render(requests []domain.GrantRequest, opts RenderOptions) (string, error) {
	s := newStyles()
	program := tea.NewProgram(
		listingModel{build: func() string { return renderView(requests, opts, s) }},
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	final, err := program.Run()
	if err != nil {
		return "", fmt.Errorf("render grant listing: %w", err)
	}

	listing, ok := final.(listingModel)
	if !ok {
		return "", fmt.Errorf("render grant listing: unexpected model %T", final)
	}
	return listing.View(), nil
}
