package ui

import (
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type stopSpinnerMsg struct{}

type spinnerModel struct {
	spinner spinner.Model
	label   string
	done    bool
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopSpinnerMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + mutedStyle.Render(m.label)
}

// Spinner shows an inline progress indicator. A disabled spinner ignores
// every call.
type Spinner struct {
	out     io.Writer
	enabled bool

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// NewSpinner creates a spinner drawing on out.
func NewSpinner(out io.Writer, enabled bool) *Spinner {
	return &Spinner{out: out, enabled: enabled}
}

// Start shows the spinner with label, replacing a running one.
func (s *Spinner) Start(label string) {
	if !s.enabled {
		return
	}
	s.Stop()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = tea.NewProgram(spinnerModel{spinner: sp, label: label},
		tea.WithOutput(s.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	s.done = make(chan struct{})
	go func(p *tea.Program, done chan struct{}) {
		_, _ = p.Run()
		close(done)
	}(s.program, s.done)
}

// Stop clears the spinner. It is safe to call when none is running.
func (s *Spinner) Stop() {
	s.mu.Lock()
	p, done := s.program, s.done
	s.program, s.done = nil, nil
	s.mu.Unlock()

	if p == nil {
		return
	}
	p.Send(stopSpinnerMsg{})
	<-done
}

// Active reports whether a spinner is showing.
func (s *Spinner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.program != nil
}
