// Package tui is a terminal host for a simulation session. It drives
// scheduler ticks from the terminal refresh loop and renders a top-down
// view of the inertial x/y plane with trails, a body table and the latest
// conjunction analysis.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/star/orbitlab/internal/conjunction"
	"github.com/star/orbitlab/internal/registry"
	"github.com/star/orbitlab/internal/scheduler"
	"github.com/star/orbitlab/internal/session"
)

// SpeedPresets are the multipliers reachable with keys 1-4.
var SpeedPresets = []float64{0.5, 1, 2, 5}

const (
	canvasWidth  = 48
	canvasHeight = 22
	trailDraw    = 200
	graphWidth   = 48
)

type tickMsg time.Time

type outcomeMsg conjunction.Outcome

// Model is the bubbletea model. The session is shared; everything else is
// view state.
type Model struct {
	sess     *session.Session
	interval time.Duration
	last     time.Time

	events <-chan conjunction.Outcome
	stop   func()

	frame    scheduler.Frame
	focus    int
	outcome  *conjunction.Outcome
	status   string
	showHelp bool
	quitting bool
}

// New creates a model ticking sess every interval.
func New(sess *session.Session, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second / 30
	}
	events, stop := sess.AnalysisEvents()
	m := Model{
		sess:     sess,
		interval: interval,
		events:   events,
		stop:     stop,
	}
	if out, ok := sess.LatestAnalysis(); ok {
		m.outcome = &out
	}
	return m
}

// Run starts the terminal program and blocks until the user quits.
func Run(ctx context.Context, sess *session.Session, interval time.Duration) error {
	m := New(sess, interval)
	defer m.stop()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) waitOutcome() tea.Cmd {
	ch := m.events
	return func() tea.Msg {
		out, ok := <-ch
		if !ok {
			return nil
		}
		return outcomeMsg(out)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.waitOutcome())
}

// Update handles keys, ticks and analysis outcomes.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		now := time.Time(msg)
		if !m.last.IsZero() {
			dt := now.Sub(m.last).Seconds()
			if f, ok, err := m.sess.Tick(dt); err != nil {
				m.status = err.Error()
			} else if ok {
				m.frame = f
			}
		}
		m.last = now
		return m, m.tick()

	case outcomeMsg:
		out := conjunction.Outcome(msg)
		m.outcome = &out
		m.status = fmt.Sprintf("analysis #%d %s", out.Seq, out.Status)
		return m, m.waitOutcome()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case " ":
		if m.sess.State() == scheduler.Running {
			m.sess.Pause()
		} else {
			m.sess.Play()
		}
	case "r":
		m.frame = m.sess.Reset()
		m.status = "reset"
	case "1", "2", "3", "4":
		m.setSpeed(SpeedPresets[key[0]-'1'])
	case "+", "=":
		m.stepSpeed(1)
	case "-", "_":
		m.stepSpeed(-1)
	case "tab", "j", "down":
		m.moveFocus(1)
	case "shift+tab", "k", "up":
		m.moveFocus(-1)
	case "s":
		m.toggleSelected()
	case "a":
		m.analyze()
	case "c":
		if m.sess.CancelAnalysis() {
			m.status = "analysis cancelled"
		}
	case "[":
		m.sess.SetTrailLength(m.sess.TrailLength() / 2)
	case "]":
		m.sess.SetTrailLength(max(m.sess.TrailLength()*2, 10))
	case "?":
		m.showHelp = !m.showHelp
	}
	return m, nil
}

func (m *Model) setSpeed(x float64) {
	if err := m.sess.SetSpeed(x); err != nil {
		m.status = err.Error()
		return
	}
	m.status = fmt.Sprintf("speed %gx", x)
}

// stepSpeed moves to the next preset above (dir > 0) or below the
// current speed.
func (m *Model) stepSpeed(dir int) {
	m.setSpeed(nextPreset(m.sess.Clock().Speed, dir))
}

func nextPreset(cur float64, dir int) float64 {
	if dir > 0 {
		for _, p := range SpeedPresets {
			if p > cur {
				return p
			}
		}
		return SpeedPresets[len(SpeedPresets)-1]
	}
	for i := len(SpeedPresets) - 1; i >= 0; i-- {
		if SpeedPresets[i] < cur {
			return SpeedPresets[i]
		}
	}
	return SpeedPresets[0]
}

func (m *Model) moveFocus(dir int) {
	n := len(m.sess.Bodies())
	if n == 0 {
		m.focus = 0
		return
	}
	m.focus = ((m.focus+dir)%n + n) % n
}

func (m *Model) focused(bodies []registry.Body) (registry.Body, bool) {
	if len(bodies) == 0 {
		return registry.Body{}, false
	}
	if m.focus >= len(bodies) {
		m.focus = len(bodies) - 1
	}
	return bodies[m.focus], true
}

// toggleSelected flips the focused body in or out of the rendered set.
func (m *Model) toggleSelected() {
	bodies := m.sess.Bodies()
	target, ok := m.focused(bodies)
	if !ok {
		return
	}
	var ids []string
	for _, b := range bodies {
		if b.Config.ID == target.Config.ID {
			if !b.Selected {
				ids = append(ids, b.Config.ID)
			}
			continue
		}
		if b.Selected {
			ids = append(ids, b.Config.ID)
		}
	}
	if err := m.sess.Select(ids); err != nil {
		m.status = err.Error()
	}
}

// analyze runs a background analysis between the focused body and the
// next one in registration order.
func (m *Model) analyze() {
	bodies := m.sess.Bodies()
	if len(bodies) < 2 {
		m.status = "analysis needs two bodies"
		return
	}
	a, _ := m.focused(bodies)
	b := bodies[(m.focus+1)%len(bodies)]
	seq, err := m.sess.Analyze(context.Background(), session.AnalysisParams{A: a.Config.ID, B: b.Config.ID})
	if err != nil {
		m.status = err.Error()
		return
	}
	m.status = fmt.Sprintf("analysis #%d: %s vs %s", seq, a.Config.ID, b.Config.ID)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	bodies := m.sess.Bodies()

	left := panelStyle.Render(orbitStyle.Render(m.renderOrbits(bodies)))
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		"",
		m.renderBodies(bodies),
		"",
		m.renderAnalysis(),
	)

	var s strings.Builder
	s.WriteString(titleStyle.Render("ORBITLAB") + " " + mutedStyle.Render(m.sess.ID()) + "\n")
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right) + "\n")
	if m.status != "" {
		s.WriteString(mutedStyle.Render(m.status) + "\n")
	}
	s.WriteString(m.renderHelp())
	return s.String()
}

func (m Model) renderHeader() string {
	st := m.sess.Clock()
	state := pausedStyle.Render("PAUSED")
	if m.sess.State() == scheduler.Running {
		state = runningStyle.Render("RUNNING")
	}
	wall := m.sess.WallTime(st.SimulatedTime).UTC().Format("2006-01-02 15:04:05")

	var s strings.Builder
	s.WriteString(state + "\n")
	s.WriteString(labelStyle.Render("Sim time") + valueStyle.Render(formatSim(st.SimulatedTime)) + "\n")
	s.WriteString(labelStyle.Render("UTC") + valueStyle.Render(wall) + "\n")
	s.WriteString(labelStyle.Render("Speed") + valueStyle.Render(fmt.Sprintf("%gx", st.Speed)) + "\n")
	s.WriteString(labelStyle.Render("Trail") + valueStyle.Render(fmt.Sprintf("%d", m.sess.TrailLength())))
	return s.String()
}

func formatSim(t float64) string {
	d := time.Duration(t * float64(time.Second)).Truncate(time.Second)
	return d.String()
}

func (m Model) renderBodies(bodies []registry.Body) string {
	if len(bodies) == 0 {
		return mutedStyle.Render("no bodies registered")
	}
	var s strings.Builder
	s.WriteString(mutedStyle.Render(fmt.Sprintf("  %-12s %-9s %8s %7s", "ID", "KIND", "ALT km", "T min")) + "\n")
	for i, b := range bodies {
		mark := " "
		if b.Selected {
			mark = "*"
		}
		alt := b.Position.Norm() - m.sess.Model().Params().EarthRadiusKm
		line := fmt.Sprintf("%s %-12s %-9s %8.0f %7.1f", mark, truncate(b.Config.ID, 12), b.Config.Kind, alt, b.Derived.PeriodMin)
		switch {
		case i == m.focus:
			line = focusStyle.Render(line)
		case !b.Selected:
			line = mutedStyle.Render(line)
		}
		s.WriteString(line)
		if b.LastError != "" {
			s.WriteString(" " + errorStyle.Render("!"))
		}
		s.WriteByte('\n')
	}
	return strings.TrimRight(s.String(), "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}

// renderOrbits draws Earth, trails and current positions of the selected
// bodies. The scale fits the farthest selected body.
func (m Model) renderOrbits(bodies []registry.Body) string {
	c := newCanvas(canvasWidth, canvasHeight)
	earth := m.sess.Model().Params().EarthRadiusKm
	extent := earth * 1.3
	for _, b := range bodies {
		if b.Selected {
			extent = math.Max(extent, b.Position.Norm()*1.05)
		}
	}
	p := newProjection(c, extent)
	c.circle(p, earth)

	for _, b := range bodies {
		if !b.Selected {
			continue
		}
		if pts, err := m.sess.Trail(b.Config.ID, trailDraw); err == nil {
			for _, pt := range pts {
				c.plot(p, pt.Position.X, pt.Position.Y)
			}
		}
		c.marker(p, b.Position.X, b.Position.Y)
	}
	return c.String()
}

func (m Model) renderAnalysis() string {
	if m.outcome == nil {
		return mutedStyle.Render("press a to analyze the focused pair")
	}
	out := m.outcome
	var s strings.Builder
	s.WriteString(fmt.Sprintf("Analysis #%d  %s vs %s  [%s]\n", out.Seq, out.Request.A.ID, out.Request.B.ID, out.Status))
	res := out.Result
	if res == nil {
		if out.Error != "" {
			s.WriteString(errorStyle.Render(truncate(out.Error, 60)))
		}
		return s.String()
	}
	s.WriteString(labelStyle.Render("Min dist") + valueStyle.Render(fmt.Sprintf("%.2f km", res.MinDistanceKm)) + " " + riskBadge(res.RiskLevel) + "\n")
	s.WriteString(labelStyle.Render("TCA") + valueStyle.Render(res.TimeOfClosestApproach.UTC().Format("2006-01-02 15:04:05")) + "\n")
	s.WriteString(labelStyle.Render("Rel vel") + valueStyle.Render(fmt.Sprintf("%.3f km/s", res.RelativeVelocityKmS)) + "\n")
	if len(res.SeparationsKm) > 1 {
		chart := asciigraph.Plot(res.SeparationsKm,
			asciigraph.Height(6),
			asciigraph.Width(graphWidth),
			asciigraph.Caption("separation km"),
		)
		s.WriteString(graphStyle.Render(chart))
	}
	return s.String()
}

func (m Model) renderHelp() string {
	if !m.showHelp {
		return helpStyle.Render("space play/pause  1-4 speed  a analyze  ? help  q quit")
	}
	return helpStyle.Render(strings.Join([]string{
		"space  play / pause",
		"r      reset clock and trails",
		"1-4    speed 0.5x 1x 2x 5x   +/- step speed",
		"tab    focus next body       s toggle rendering",
		"a      analyze focused body against the next",
		"c      cancel analysis",
		"[ ]    halve / double trail length",
		"q      quit",
	}, "\n"))
}
