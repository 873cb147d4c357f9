package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/wippyai/wasmino/config"
	"github.com/wippyai/wasmino/runtime"
	"github.com/wippyai/wasmino/source"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	switchOnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#90EE90"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	consoleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const consoleLines = 6

// console keeps the tail of the guest's stdout and stderr.
type console struct {
	lines   []string
	partial []byte
	max     int
	mu      sync.Mutex
}

func newConsole(max int) *console {
	return &console{max: max}
}

func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		if b != '\n' {
			c.partial = append(c.partial, b)
			continue
		}
		c.lines = append(c.lines, string(c.partial))
		c.partial = c.partial[:0]
		if len(c.lines) > c.max {
			c.lines = c.lines[len(c.lines)-c.max:]
		}
	}
	return len(p), nil
}

func (c *console) Tail() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.lines...)
	if len(c.partial) > 0 {
		out = append(out, string(c.partial))
	}
	return out
}

type tickMsg time.Time

// panelModel drives the host from the bubbletea event loop. Every host call
// happens inside Update, so no locking is needed.
type panelModel struct {
	host     *runtime.Host
	console  *console
	values   map[uint32]uint32
	modes    map[uint32]uint32
	name     string
	savePath string
	warning  string
	cfg      config.Config
	input    textinput.Model
	status   runtime.Status
	pinCount uint32
	selected int
	paused   bool
	adding   bool
	ticking  bool
}

func newPanelModel(cfg config.Config, host *runtime.Host, name string, out *console) *panelModel {
	ti := textinput.New()
	ti.Placeholder = "13 led 255, 0, 0"
	ti.Prompt = "add pin: "
	ti.CharLimit = 32
	ti.Width = 40

	if cfg.Pins == nil {
		cfg.Pins = map[string]config.Pin{}
	}
	return &panelModel{
		cfg:     cfg,
		host:    host,
		name:    name,
		console: out,
		input:   ti,
		values:  make(map[uint32]uint32),
		modes:   make(map[uint32]uint32),
	}
}

// start initializes the guest before the panel takes over the terminal.
func (m *panelModel) start() error {
	ctx, cancel := m.callContext()
	defer cancel()
	if err := m.host.Init(ctx); err != nil {
		return err
	}
	m.refresh()
	return nil
}

func (m *panelModel) callContext() (context.Context, context.CancelFunc) {
	if d := m.cfg.TickTimeout(); d > 0 {
		return context.WithTimeout(context.Background(), d)
	}
	return context.WithCancel(context.Background())
}

func (m *panelModel) nextTick() tea.Cmd {
	m.ticking = true
	return tea.Tick(m.cfg.TickInterval(), func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *panelModel) Init() tea.Cmd {
	return m.nextTick()
}

func (m *panelModel) refresh() {
	ctx, cancel := m.callContext()
	defer cancel()

	m.status = m.host.Snapshot()
	if m.status.Failed != nil {
		return
	}
	if n, err := m.host.PinCount(ctx); err == nil {
		m.pinCount = n
	}
	for _, e := range m.cfg.SortedPins() {
		m.values[e.Index] = m.host.ReadPin(ctx, e.Index)
		if mode, err := m.host.PinMode(ctx, e.Index); err == nil {
			m.modes[e.Index] = mode
		}
	}
}

func (m *panelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if !m.paused {
			ctx, cancel := m.callContext()
			err := m.host.TickDuration(ctx, m.cfg.TickInterval())
			cancel()
			if err != nil {
				m.warning = err.Error()
			}
		}
		m.refresh()
		if m.status.Failed != nil {
			m.ticking = false
			return m, nil
		}
		return m, m.nextTick()

	case tea.KeyMsg:
		if m.adding {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m *panelModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		m.adding = false
		m.input.Blur()
		return m, nil

	case "enter":
		index, pin, err := parsePinEntry(m.input.Value(), m.pinCount)
		if err != nil {
			m.warning = err.Error()
			return m, nil
		}
		m.cfg.SetPin(index, pin)
		m.warning = ""
		m.adding = false
		m.input.Blur()
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *panelModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := m.cfg.SortedPins()

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(entries)-1 {
			m.selected++
		}

	case " ", "enter":
		if m.selected < len(entries) && entries[m.selected].Type == config.PinSwitch {
			m.toggle(entries[m.selected].Index)
		}

	case "a":
		m.adding = true
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink

	case "d", "delete":
		if m.selected < len(entries) {
			m.cfg.RemovePin(entries[m.selected].Index)
			if m.selected >= len(entries)-1 && m.selected > 0 {
				m.selected--
			}
		}

	case "p":
		m.paused = !m.paused

	case "w":
		if m.savePath == "" {
			m.warning = "no config file to save to, start with -config"
			break
		}
		if err := m.cfg.Save(m.savePath); err != nil {
			m.warning = err.Error()
			break
		}
		m.warning = "layout saved to " + m.savePath

	case "r":
		ctx, cancel := m.callContext()
		err := m.host.Reset(ctx, nil)
		cancel()
		m.warning = ""
		if err != nil {
			m.warning = err.Error()
		}
		m.refresh()
		if !m.ticking && m.status.Failed == nil {
			return m, m.nextTick()
		}
	}
	return m, nil
}

func (m *panelModel) toggle(pin uint32) {
	value := uint32(1)
	if m.values[pin] != 0 {
		value = 0
	}

	ctx, cancel := m.callContext()
	defer cancel()
	if err := m.host.WritePin(ctx, pin, value); err != nil {
		m.warning = err.Error()
		return
	}
	m.values[pin] = m.host.ReadPin(ctx, pin)
}

// parsePinEntry parses "<pin> [led|switch] [r, g, b]". The type defaults to led.
func parsePinEntry(s string, pinCount uint32) (uint32, config.Pin, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, config.Pin{}, fmt.Errorf("expected <pin> [led|switch] [r, g, b]")
	}

	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, config.Pin{}, fmt.Errorf("pin %q is not a number", fields[0])
	}
	index := uint32(n)
	if pinCount > 0 && index >= pinCount {
		return 0, config.Pin{}, fmt.Errorf("pin %d out of range, guest has %d pins", index, pinCount)
	}

	pin := config.Pin{Type: config.PinLED}
	if len(fields) > 1 {
		pin.Type = config.PinType(fields[1])
	}
	switch pin.Type {
	case config.PinLED:
		if len(fields) > 2 {
			pin.Color = strings.Join(fields[2:], " ")
			if _, _, _, err := config.ParseColor(pin.Color); err != nil {
				return 0, config.Pin{}, err
			}
		}
	case config.PinSwitch:
		if len(fields) > 2 {
			return 0, config.Pin{}, fmt.Errorf("switches take no color")
		}
	default:
		return 0, config.Pin{}, fmt.Errorf("unknown pin type %q", pin.Type)
	}
	return index, pin, nil
}

func ledColor(color string) lipgloss.Color {
	r, g, b, err := config.ParseColor(color)
	if err != nil {
		r, g, b, _ = config.ParseColor(config.DefaultLEDColor)
	}
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r, g, b))
}

func (m *panelModel) widget(e config.PinEntry) string {
	on := m.values[e.Index] != 0
	switch e.Type {
	case config.PinSwitch:
		if on {
			return switchOnStyle.Render("[ on]")
		}
		return dimStyle.Render("[off]")
	default:
		if on {
			return lipgloss.NewStyle().Foreground(ledColor(e.Color)).Render("●")
		}
		return dimStyle.Render("○")
	}
}

func (m *panelModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasmino"))
	b.WriteString(" ")
	b.WriteString(m.name)
	if m.paused {
		b.WriteString(dimStyle.Render(" (paused)"))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("uptime %v • host %v • %s • instance %d • %d sleeps",
		nsDuration(m.status.GuestNs).Round(time.Millisecond),
		nsDuration(m.status.HostNs).Round(time.Millisecond),
		m.status.State,
		m.status.Generation,
		m.status.Stats.Sleeps)))
	b.WriteString("\n\n")

	entries := m.cfg.SortedPins()
	if len(entries) == 0 {
		b.WriteString(dimStyle.Render("No pins. Press a to add one."))
		b.WriteString("\n")
	}
	for i, e := range entries {
		line := fmt.Sprintf("pin %2d  %-6s ", e.Index, e.Type)
		mode := modeName(m.modes[e.Index])
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString(m.widget(e))
		b.WriteString(" ")
		b.WriteString(dimStyle.Render(mode))
		b.WriteString("\n")
	}

	if tail := m.console.Tail(); len(tail) > 0 {
		b.WriteString("\n")
		if len(tail) > consoleLines {
			tail = tail[len(tail)-consoleLines:]
		}
		for _, line := range tail {
			b.WriteString(consoleStyle.Render(line))
			b.WriteString("\n")
		}
	}

	if m.status.Failed != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("Guest failed: %v", m.status.Failed)))
		b.WriteString("\n")
	} else if m.warning != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.warning))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.adding {
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter add • esc cancel"))
	} else {
		b.WriteString(helpStyle.Render("↑/↓ select • space toggle • a add • d delete • p pause • r reset • w save • q quit"))
	}
	return b.String()
}

func runInteractive(cfg config.Config, src source.Source, log *zap.Logger, savePath string) error {
	out := newConsole(consoleLines * 4)
	opts := append(cfg.HostOptions(),
		runtime.WithLogger(log),
		runtime.WithStdout(out),
		runtime.WithStderr(out),
	)
	host := runtime.New(src, opts...)
	defer func() { _ = host.Close(context.Background()) }()

	m := newPanelModel(cfg, host, src.String(), out)
	m.savePath = savePath
	if err := m.start(); err != nil {
		return err
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
