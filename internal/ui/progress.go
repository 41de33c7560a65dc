package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ProgressRenderer reports a long-running index job.
type ProgressRenderer interface {
	Start(ctx context.Context) error
	Update(done, total int)
	Complete(count int, elapsed time.Duration)
	Stop() error
}

// NewProgressRenderer returns a bubbletea renderer for terminals and a
// line-per-update renderer otherwise. JSON output gets no progress at all.
func NewProgressRenderer(cfg Config, title string) ProgressRenderer {
	if cfg.Format == FormatJSON {
		return nopProgress{}
	}
	if IsTTY(cfg.Output) && !DetectCI() {
		return newTUIProgress(cfg, title)
	}
	return NewPlainProgress(cfg.Output, title)
}

type nopProgress struct{}

func (nopProgress) Start(context.Context) error { return nil }
func (nopProgress) Update(int, int)             {}
func (nopProgress) Complete(int, time.Duration) {}
func (nopProgress) Stop() error                 { return nil }

// PlainProgress writes one line per update, for pipes and CI logs.
type PlainProgress struct {
	mu    sync.Mutex
	out   io.Writer
	title string
	last  int
}

// NewPlainProgress creates a plain renderer writing to out.
func NewPlainProgress(out io.Writer, title string) *PlainProgress {
	return &PlainProgress{out: out, title: title, last: -1}
}

// Start implements ProgressRenderer.
func (p *PlainProgress) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = -1
	return nil
}

// Update implements ProgressRenderer. Repeated counts are not printed again.
func (p *PlainProgress) Update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done == p.last {
		return
	}
	p.last = done
	_, _ = fmt.Fprintf(p.out, "[%s] %d/%d (%s)\n", p.title, done, total, percent(done, total))
}

// Complete implements ProgressRenderer.
func (p *PlainProgress) Complete(count int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, completeLine(count, elapsed))
}

// Stop implements ProgressRenderer.
func (p *PlainProgress) Stop() error {
	return nil
}

func percent(done, total int) string {
	if total == 0 {
		return "100%"
	}
	return fmt.Sprintf("%.0f%%", float64(done)/float64(total)*100)
}

func completeLine(count int, elapsed time.Duration) string {
	return fmt.Sprintf("Reindexed %d memories in %s", count, elapsed.Round(time.Millisecond))
}

// tuiProgress drives a bubbletea program in the background.
type tuiProgress struct {
	mu      sync.Mutex
	cfg     Config
	model   *progressModel
	program *tea.Program
	done    chan struct{}
}

func newTUIProgress(cfg Config, title string) *tuiProgress {
	return &tuiProgress{
		cfg:   cfg,
		model: newProgressModel(title, GetStyles(cfg.NoColor)),
		done:  make(chan struct{}),
	}
}

// Start implements ProgressRenderer.
func (r *tuiProgress) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(nil)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// Update implements ProgressRenderer.
func (r *tuiProgress) Update(done, total int) {
	r.send(progressMsg{done: done, total: total})
}

// Complete implements ProgressRenderer.
func (r *tuiProgress) Complete(count int, elapsed time.Duration) {
	r.send(completeMsg{count: count, elapsed: elapsed})
}

func (r *tuiProgress) send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(msg)
	}
}

// Stop implements ProgressRenderer. It waits briefly for the final frame.
func (r *tuiProgress) Stop() error {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program == nil {
		return nil
	}

	program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type progressMsg struct{ done, total int }

type completeMsg struct {
	count   int
	elapsed time.Duration
}

// progressModel is the bubbletea model for index jobs.
type progressModel struct {
	title    string
	done     int
	total    int
	complete *completeMsg
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newProgressModel(title string, styles Styles) *progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Success

	bar := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &progressModel{title: title, spinner: s, bar: bar, styles: styles}
}

// Init implements tea.Model.
func (m *progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(20, min(60, msg.Width-30))

	case progressMsg:
		m.done, m.total = msg.done, msg.total

	case completeMsg:
		m.complete = &msg
		m.done = msg.count
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *progressModel) View() string {
	if m.complete != nil {
		return m.styles.Success.Render("● ") + completeLine(m.complete.count, m.complete.elapsed) + "\n"
	}

	var b strings.Builder
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.styles.Header.Render(m.title))
	b.WriteString("\n")

	ratio := 0.0
	if m.total > 0 {
		ratio = float64(m.done) / float64(m.total)
	}
	b.WriteString(m.bar.ViewAs(ratio))
	b.WriteString("  ")
	b.WriteString(lipgloss.NewStyle().Bold(true).Render(percent(m.done, m.total)))
	b.WriteString("\n")
	b.WriteString(m.styles.Label.Render(fmt.Sprintf("%d / %d memories", m.done, m.total)))
	b.WriteString("\n")
	return b.String()
}
