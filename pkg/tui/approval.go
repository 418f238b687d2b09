// Package tui provides the full-screen approval prompt.
package tui

import (
	"context"
	"os"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/report"
)

// ErrAborted is returned when the prompt is closed with ctrl+c.
var ErrAborted = errors.Wrap(context.Canceled, "approval aborted")

// ApprovalModel is the bubbletea model of the approval prompt.
type ApprovalModel struct {
	report   *report.VerificationReport
	keys     keyMap
	viewport viewport.Model
	content  string
	ready    bool

	decision report.Decision
	aborted  bool
}

// NewApprovalModel creates the model for r
func NewApprovalModel(r *report.VerificationReport) ApprovalModel {
	return ApprovalModel{
		report:  r,
		keys:    defaultKeys(),
		content: RenderSummary(r, approval.DefaultSummaryLimit),
	}
}

// Init implements tea.Model
func (m ApprovalModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m ApprovalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// title, frame border and help line
		height := max(msg.Height-5, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = height
		}
		m.viewport.SetContent(m.content)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Approve):
			m.decision = report.DecisionApproved
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reject):
			m.decision = report.DecisionRejected
			return m, tea.Quit
		case key.Matches(msg, m.keys.Skip):
			m.decision = report.DecisionSkipped
			return m, tea.Quit
		case key.Matches(msg, m.keys.Quit):
			m.aborted = true
			return m, tea.Quit
		}
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model
func (m ApprovalModel) View() string {
	body := m.content
	if m.ready {
		body = m.viewport.View()
	}
	return titleStyle.Render("Verification Summary") + "\n" +
		frameStyle.Render(body) + "\n" +
		renderHelp(m.keys.help())
}

// Decision returns the chosen decision and whether one was made.
func (m ApprovalModel) Decision() (report.Decision, bool) {
	return m.decision, m.decision != ""
}

// Aborted reports whether the prompt was closed with ctrl+c.
func (m ApprovalModel) Aborted() bool {
	return m.aborted
}

// Provider asks for approval in a full-screen terminal UI.
type Provider struct {
	options []tea.ProgramOption
}

// NewProvider creates a Provider. Options are passed to the bubbletea program.
func NewProvider(options ...tea.ProgramOption) *Provider {
	return &Provider{options: options}
}

// RequestApproval implements approval.Provider
func (p *Provider) RequestApproval(ctx context.Context, r *report.VerificationReport) (report.Decision, error) {
	options := append([]tea.ProgramOption{
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithOutput(os.Stderr),
	}, p.options...)

	final, err := tea.NewProgram(NewApprovalModel(r), options...).Run()
	if ctx.Err() != nil {
		return report.DecisionSkipped, ctx.Err()
	}
	if err != nil {
		return report.DecisionSkipped, errors.Wrap(err, "error running approval prompt")
	}

	m, ok := final.(ApprovalModel)
	if !ok {
		return report.DecisionSkipped, errors.Errorf("unexpected model type %T", final)
	}
	if m.Aborted() {
		return report.DecisionSkipped, ErrAborted
	}
	decision, ok := m.Decision()
	if !ok {
		decision = report.DecisionSkipped
	}
	logger.G(ctx).WithField("decision", decision).Debug("approval answered in tui")
	return decision, nil
}
