// Package inspector provides an interactive single-stepping debugger over a
// running kernel: a process table, the selected process's registers, and a
// page of its memory, redrawn after every step.
package inspector

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"chip8os/internal/kernel"
	"chip8os/internal/vm"
)

var stateNames = map[int]string{0: "running", 1: "blocked", 2: "exited"}

type model struct {
	kernel *kernel.Kernel
	pid    uint32
	offset uint16 // page start for the memory dump, relative to the selected process

	lastOutcome vm.Outcome
	err         error
}

// New builds a debugger model over k, starting with pid selected.
func New(k *kernel.Kernel, pid uint32) tea.Model {
	return model{kernel: k, pid: pid}
}

// Run starts the interactive TUI. It blocks until the user quits.
func Run(k *kernel.Kernel, pid uint32) error {
	m, err := tea.NewProgram(New(k, pid)).Run()
	if err != nil {
		return err
	}
	if fin, ok := m.(model); ok && fin.err != nil {
		return fin.err
	}
	return nil
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case " ", "j":
		outcome, err := m.kernel.StepProcess(m.pid)
		if err != nil {
			m.err = err
			return m, tea.Quit
		}
		m.lastOutcome = outcome

	case "n":
		pids := m.kernel.Pids()
		for i, pid := range pids {
			if pid == m.pid {
				m.pid = pids[(i+1)%len(pids)]
				break
			}
		}

	case "k":
		if m.offset >= 16 {
			m.offset -= 16
		}

	case "l":
		m.offset += 16
	}
	return m, nil
}

func (m model) processTable() string {
	header := "pid | state    | exit"
	rows := []string{header}

	pids := append([]uint32(nil), m.kernel.Pids()...)
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	for _, pid := range pids {
		state, exitCode, ok := m.kernel.ProcState(pid)
		if !ok {
			continue
		}
		marker := "  "
		if pid == m.pid {
			marker = "> "
		}
		rows = append(rows, fmt.Sprintf("%s%3d | %-8s | %d", marker, pid, stateNames[state], exitCode))
	}
	return strings.Join(rows, "\n")
}

func (m model) registers() string {
	p, ok := m.kernel.Process(m.pid)
	if !ok {
		return "(no such process)"
	}
	r := p.Regs
	return fmt.Sprintf(`
PC: %#04x   I: %#04x   SP: %#04x
DT: %3d     ST: %3d
V:  % 02X
`, r.PC, r.I, r.SP, r.DT, r.ST, r.V)
}

func (m model) memoryPage() string {
	p, ok := m.kernel.Process(m.pid)
	if !ok {
		return ""
	}
	header := "addr | " + strings.Join(nibbleHeader(), " ")
	lines := []string{header}
	for row := 0; row < 4; row++ {
		start := m.offset + uint16(row*16)
		data, err := p.ReadBytes(uint32(start), 16)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%#04x | <out of range>", start))
			continue
		}
		line := fmt.Sprintf("%#04x | ", start)
		for i, b := range data {
			if start+uint16(i) == p.Regs.PC {
				line += fmt.Sprintf("[%02x]", b)
			} else {
				line += fmt.Sprintf(" %02x ", b)
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func nibbleHeader() []string {
	cols := make([]string, 16)
	for i := range cols {
		cols[i] = fmt.Sprintf(" %01x ", i)
	}
	return cols
}

func (m model) View() string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(
			lipgloss.Top,
			m.processTable(),
			m.registers(),
		),
		"",
		m.memoryPage(),
		"",
		spew.Sdump(m.lastOutcome),
	)
}
