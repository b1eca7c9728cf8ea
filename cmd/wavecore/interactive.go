package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-core/ir"
	"github.com/wippyai/wasm-core/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	objectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inspectorModel struct {
	compartment *runtime.Compartment
	instance    *runtime.ModuleInstance
	ctx         *runtime.Context

	input    textinput.Model
	objects  []string
	lastLine string
	err      error
}

func runInteractive() error {
	compartment := runtime.NewCompartment()
	instance, err := instantiateDemo(compartment)
	if err != nil {
		return err
	}
	runtime.AddGCRoot(instance)
	ctx, err := runtime.NewContext(compartment)
	if err != nil {
		return err
	}
	runtime.AddGCRoot(ctx)

	input := textinput.New()
	input.Placeholder = "call <export> [i32 args...], e.g. add 2 40"
	input.Focus()

	model := &inspectorModel{
		compartment: compartment,
		instance:    instance,
		ctx:         ctx,
		input:       input,
	}
	model.refresh()

	program := tea.NewProgram(model)
	_, err = program.Run()
	return err
}

func (m *inspectorModel) refresh() {
	objects := runtime.LiveObjects()
	lines := make([]string, 0, len(objects))
	counts := map[string]int{}
	for _, o := range objects {
		counts[o.Kind().String()]++
	}
	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		lines = append(lines, fmt.Sprintf("%s %s",
			kindStyle.Render(fmt.Sprintf("%-16s", kind)),
			objectStyle.Render(strconv.Itoa(counts[kind]))))
	}
	m.objects = lines
}

func (m *inspectorModel) Init() tea.Cmd { return textinput.Blink }

func (m *inspectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlG:
			before := runtime.LiveObjectCount()
			runtime.CollectGarbage()
			m.lastLine = fmt.Sprintf("collected: %d -> %d objects", before, runtime.LiveObjectCount())
			m.refresh()
			return m, nil
		case tea.KeyEnter:
			m.invoke(strings.Fields(m.input.Value()))
			m.input.SetValue("")
			m.refresh()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *inspectorModel) invoke(fields []string) {
	m.err = nil
	if len(fields) == 0 {
		return
	}
	fn, ok := runtime.GetInstanceExport(m.instance, fields[0]).(*runtime.FunctionInstance)
	if !ok {
		m.err = fmt.Errorf("no exported function %q", fields[0])
		return
	}
	var args []ir.Value
	for _, field := range fields[1:] {
		n, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			m.err = fmt.Errorf("bad argument %q", field)
			return
		}
		args = append(args, ir.I32Value(int32(n)))
	}
	results, err := runtime.Invoke(m.ctx, fn, args)
	if err != nil {
		m.err = err
		return
	}
	if len(results) == 0 {
		m.lastLine = fmt.Sprintf("%s returned", fields[0])
		return
	}
	m.lastLine = fmt.Sprintf("%s = %d", fields[0], results[0].AsI32())
}

func (m *inspectorModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wavecore inspector"))
	b.WriteString("\n\n")
	b.WriteString("Live objects:\n")
	for _, line := range m.objects {
		b.WriteString("  " + line + "\n")
	}
	b.WriteString("\nExports: ")
	names := m.instance.ExportNames()
	sort.Strings(names)
	b.WriteString(objectStyle.Render(strings.Join(names, ", ")))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n")
	} else if m.lastLine != "" {
		b.WriteString(resultStyle.Render(m.lastLine) + "\n")
	}
	b.WriteString(helpStyle.Render("enter: call · ctrl+g: collect garbage · esc: quit"))
	b.WriteString("\n")
	return b.String()
}
