package viz

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/engine"
	"github.com/san-kum/gravsim/internal/sim"
)

const (
	width           = 80
	height          = 24
	historyCapacity = 600
	extentQuantile  = 0.95
)

var (
	canvasStyle = lipgloss.NewStyle().Padding(1, 2)
	statsStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2).Width(45)
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
)

type TickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second/60, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Monitor advances an engine one tick per frame and plots the bodies.
// Invariants are sampled every invariantSteps ticks.
type Monitor struct {
	eng            sim.Engine
	title          string
	invariantSteps int
	maxFailures    int

	canvas  *Canvas
	tick    int
	frame   int
	running bool
	extent  float64
	zoom    float64
	drawn   int

	energy      []float64
	first, last sim.Sample
	sampled     bool
	failed      int
	consecutive int
	err         error
}

func NewMonitor(eng sim.Engine, title string, invariantSteps, maxFailures int) Monitor {
	if invariantSteps <= 0 {
		invariantSteps = 1
	}
	return Monitor{
		eng:            eng,
		title:          title,
		invariantSteps: invariantSteps,
		maxFailures:    maxFailures,
		canvas:         NewCanvas(width, height),
		running:        true,
		zoom:           1,
		energy:         make([]float64, 0, historyCapacity),
	}
}

func (m Monitor) Init() tea.Cmd { return tick() }

func (m Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			if m.err == nil || m.maxFailures == 0 || m.consecutive < m.maxFailures {
				m.running = !m.running
			}
		case "+", "=":
			m.zoom = math.Min(50, m.zoom*1.25)
		case "-", "_":
			m.zoom = math.Max(0.02, m.zoom/1.25)
		case "r":
			m.extent = 0
			m.zoom = 1
		}
	case TickMsg:
		m.frame++
		if m.running {
			m.step()
		}
		m.draw()
		return m, tick()
	}
	return m, nil
}

func (m *Monitor) step() {
	if m.tick%m.invariantSteps == 0 {
		s, err := sim.Measure(m.eng, m.tick)
		if err != nil {
			m.fail(err)
			m.tick++
			return
		}
		m.record(s)
	}
	if err := m.eng.Advance(); err != nil {
		m.fail(err)
	} else {
		m.consecutive = 0
	}
	m.tick++
}

func (m *Monitor) record(s sim.Sample) {
	if !m.sampled {
		m.first = s
		m.sampled = true
	}
	m.last = s
	if len(m.energy) == historyCapacity {
		copy(m.energy, m.energy[1:])
		m.energy = m.energy[:historyCapacity-1]
	}
	m.energy = append(m.energy, s.Total)
}

func (m *Monitor) fail(err error) {
	m.err = err
	m.failed++
	m.consecutive++
	if m.maxFailures > 0 && m.consecutive >= m.maxFailures {
		m.running = false
	}
}

func (m *Monitor) draw() {
	mapping, err := m.eng.Map(engine.Position, device.ReadOnly)
	if err != nil {
		m.err = err
		return
	}
	defer func() {
		if err := m.eng.Unmap(mapping); err != nil {
			m.err = err
		}
	}()

	if m.extent == 0 {
		m.extent = Extent(mapping.Data, extentQuantile) * 1.1
	}
	m.canvas.Clear()
	cx, cy := m.canvas.Width, m.canvas.Height*2
	m.canvas.DrawLine(cx-2, cy, cx+2, cy)
	m.canvas.DrawLine(cx, cy-2, cx, cy+2)
	m.drawn = m.canvas.PlotBodies(mapping.Data, m.extent/m.zoom)
}

// Drift is the relative change of total energy since the first sample.
func (m Monitor) Drift() float64 {
	if !m.sampled || m.first.Total == 0 {
		return 0
	}
	return math.Abs(m.last.Total-m.first.Total) / math.Abs(m.first.Total)
}

func (m Monitor) Ticks() int       { return m.tick }
func (m Monitor) FailedTicks() int { return m.failed }
func (m Monitor) Running() bool    { return m.running }
func (m Monitor) Err() error       { return m.err }

func (m Monitor) View() string {
	var s strings.Builder
	s.WriteString(HeaderStyle.Render(strings.ToUpper(m.title)) + "\n\n")

	switch {
	case m.maxFailures > 0 && m.consecutive >= m.maxFailures:
		s.WriteString(StatusFailed.Render("STOPPED") + "\n\n")
	case m.running:
		s.WriteString(StatusRunning.Render(AnimatedSpinner(m.frame)+" RUNNING") + "\n\n")
	default:
		s.WriteString(StatusPaused.Render("PAUSED") + "\n\n")
	}

	if len(m.energy) > 1 {
		chart := asciigraph.Plot(m.energy, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("Total energy"))
		s.WriteString(graphStyle.Render(chart) + "\n")
		s.WriteString(SparklineChart(m.energy, 30) + "\n\n")
	}

	row := func(label, value string) {
		s.WriteString(MetricLabel.Render(label) + MetricValue.Render(value) + "\n")
	}
	s.WriteString(Separator(40) + "\n")
	row("Tick", fmt.Sprintf("%d", m.tick))
	row("Bodies", fmt.Sprintf("%d/%d", m.drawn, m.eng.N()))
	row("Kinetic", fmt.Sprintf("%.4e", m.last.Kinetic))
	row("Potential", fmt.Sprintf("%.4e", m.last.Potential))
	row("Total", fmt.Sprintf("%.4e", m.last.Total))
	row("Angular", fmt.Sprintf("%.4e", m.last.Angular))
	row("Drift", fmt.Sprintf("%.3e", m.Drift()))
	row("Extent", fmt.Sprintf("%.3g", m.extent/m.zoom))
	if m.failed > 0 {
		row("Failed", fmt.Sprintf("%d", m.failed))
	}
	if m.err != nil {
		s.WriteString("\n" + StatusFailed.Render(truncate(m.err.Error(), 40)) + "\n")
	}

	s.WriteString("\n" + Separator(40) + "\n" + KeyHint.Render("SP:Pause +/-:Zoom R:Refit Q:Quit"))

	canvasView := canvasStyle.Render(m.canvas.String())
	return lipgloss.JoinHorizontal(lipgloss.Top, canvasView, statsStyle.Render(s.String()))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// RunMonitor runs m full screen until the user quits and returns the final
// model.
func RunMonitor(m Monitor) (Monitor, error) {
	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return m, err
	}
	return final.(Monitor), nil
}
