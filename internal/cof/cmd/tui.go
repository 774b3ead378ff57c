package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"cof/internal/cof/styles"
	"cof/internal/logging"
	"cof/internal/printer"
	"cof/internal/search"
	"cof/internal/ui/colorize"
)

// runFindTUI runs the pass inside the findings browser: a spinner while
// the engine works, then the findings list with a detail view and the
// rendered report.
func runFindTUI(cmd *cobra.Command, opts findOptions) error {
	program := tea.NewProgram(
		newFindModel(opts),
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
	)

	final, err := program.Run()
	if err != nil {
		return fmt.Errorf("findings browser error: %v", err)
	}
	if m, ok := final.(findModel); ok && m.err != nil {
		return m.err
	}
	return nil
}

type viewMode int

const (
	viewFindings viewMode = iota
	viewDetail
	viewReport
)

// findingItem is one row of the findings list.
type findingItem struct {
	searchID   string
	searchType string
	value      string
	finding    search.Finding
}

func (i findingItem) Title() string       { return i.searchID }
func (i findingItem) Description() string { return "" }
func (i findingItem) FilterValue() string { return i.searchID + " " + i.searchType }

// findingDelegate renders findings list rows in fixed columns.
type findingDelegate struct{}

func (d findingDelegate) Height() int                               { return 1 }
func (d findingDelegate) Spacing() int                              { return 0 }
func (d findingDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d findingDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(findingItem)
	if !ok {
		return
	}

	var idStyle lipgloss.Style
	indicator := " "
	if index == m.Index() {
		indicator = ">"
		idStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	} else {
		idStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	}
	typeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("81"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	fmt.Fprintf(w, " %s  %s  %s  %s",
		indicator,
		idStyle.Render(fmt.Sprintf("%-32s", i.searchID)),
		typeStyle.Render(fmt.Sprintf("%-14s", i.searchType)),
		valueStyle.Render(i.value))
}

type findModel struct {
	spinner      spinner.Model
	findingsList list.Model
	detailView   viewport.Model
	reportView   viewport.Model
	mode         viewMode

	opts    findOptions
	res     findResult
	err     error
	logPath string
	running bool

	width  int
	height int
}

// passDoneMsg carries the finished pass back into the event loop.
type passDoneMsg struct {
	res     findResult
	err     error
	logPath string
}

// runPassCmd runs the whole find pass off the UI goroutine. Engine log
// lines go to a file so they stay off the alternate screen.
func runPassCmd(opts findOptions) tea.Cmd {
	return func() tea.Msg {
		logger, logPath := logging.NewFileLogger()
		defer logger.Close()

		res, err := executeFind(logger.Logger, opts)
		return passDoneMsg{res: res, err: err, logPath: logPath}
	}
}

func newFindModel(opts findOptions) findModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	findingsList := list.New([]list.Item{}, findingDelegate{}, 80, 24)
	findingsList.SetShowStatusBar(false)
	findingsList.SetFilteringEnabled(true)
	findingsList.Title = "Findings"
	findingsList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	findingsList.SetShowHelp(true)

	dv := viewport.New()
	dv.SetWidth(80)
	dv.SetHeight(24)

	rv := viewport.New()
	rv.SetWidth(80)
	rv.SetHeight(24)

	return findModel{
		spinner:      s,
		findingsList: findingsList,
		detailView:   dv,
		reportView:   rv,
		mode:         viewFindings,
		opts:         opts,
		running:      true,
		width:        80,
		height:       24,
	}
}

func (m findModel) Init() tea.Cmd {
	return tea.Batch(
		runPassCmd(m.opts),
		m.spinner.Tick,
	)
}

func (m findModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case passDoneMsg:
		m.running = false
		m.res = msg.res
		m.err = msg.err
		m.logPath = msg.logPath
		if m.err != nil {
			// The error is returned after the program exits.
			return m, tea.Quit
		}
		m.updateFindingsList()
		m.updateReport()
		return m, nil

	case spinner.TickMsg:
		if m.running {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.findingsList.SetWidth(msg.Width)
			m.findingsList.SetHeight(msg.Height - 2)
			m.detailView.SetWidth(msg.Width)
			m.detailView.SetHeight(msg.Height - 2)
			m.reportView.SetWidth(msg.Width)
			m.reportView.SetHeight(msg.Height - 2)
			if !m.running {
				m.updateReport()
			}
		}

	case tea.KeyMsg:
		// During filtering only quit keys bypass the list.
		if m.mode == viewFindings && m.findingsList.FilterState() == list.Filtering {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "f":
			m.mode = viewFindings
			return m, nil
		case "r":
			if !m.running {
				m.mode = viewReport
			}
			return m, nil
		case "enter":
			if m.mode == viewFindings && !m.running {
				if selected := m.findingsList.SelectedItem(); selected != nil {
					if item, ok := selected.(findingItem); ok {
						m.detailView.SetContent(renderDetail(item.finding))
						m.detailView.GotoTop()
						m.mode = viewDetail
					}
				}
			}
			return m, nil
		case "esc":
			if m.mode == viewDetail {
				m.mode = viewFindings
			}
			return m, nil
		case "tab":
			switch m.mode {
			case viewFindings:
				if !m.running {
					m.mode = viewReport
				}
			default:
				m.mode = viewFindings
			}
			return m, nil
		}
	}

	switch m.mode {
	case viewDetail:
		m.detailView, cmd = m.detailView.Update(msg)
	case viewReport:
		m.reportView, cmd = m.reportView.Update(msg)
	default:
		m.findingsList, cmd = m.findingsList.Update(msg)
	}
	return m, cmd
}

func (m findModel) View() string {
	if m.running {
		return fmt.Sprintf("\n  %s Searching %s ...\n", m.spinner.View(), m.opts.dumpFile)
	}

	var content string
	switch m.mode {
	case viewDetail:
		content = m.detailView.View()
	case viewReport:
		content = m.reportView.View()
	default:
		content = m.findingsList.View()
	}

	var menu string
	switch m.mode {
	case viewDetail:
		menu = " Esc: back • R: report • Tab: cycle • Q: quit "
	case viewReport:
		menu = " F: findings • Tab: cycle • Q: quit "
	default:
		menu = " Enter: detail • R: report • Tab: cycle • Q: quit "
	}

	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *findModel) updateFindingsList() {
	items := make([]list.Item, 0, len(m.res.findings))
	for _, fd := range m.res.findings {
		item := findingItem{
			searchID:   fd.Target.SearchID,
			searchType: fd.Target.SearchType.String(),
			finding:    fd,
		}
		switch v := fd.Value.(type) {
		case search.ScalarValue:
			item.value = fmt.Sprintf("0x%X", v.Value)
		case search.DecryptorValue:
			item.value = "decryption routine"
		}
		items = append(items, item)
	}
	m.findingsList.SetItems(items)
	m.findingsList.Title = fmt.Sprintf("Findings (%d)", len(items))
}

func (m *findModel) updateReport() {
	report := buildReport(m.res, m.opts)
	if m.logPath != "" {
		report += fmt.Sprintf("\nEngine log: `%s`\n", m.logPath)
	}
	if renderer := styles.GetMarkdownRenderer(m.width); renderer != nil {
		if rendered, err := renderer.Render(report); err == nil {
			m.reportView.SetContent(rendered)
			return
		}
	}
	m.reportView.SetContent(report)
}

// renderDetail renders one finding for the detail viewport. Decryptor
// pseudocode is syntax highlighted; scalars list the target's
// configuration alongside the value.
func renderDetail(fd search.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n  %s  (%s)\n\n", fd.Target.SearchID, fd.Target.SearchType)
	if fd.Target.Print != nil {
		fmt.Fprintf(&b, "  Printed as: %s (group %s)\n", fd.Target.Print.Name, fd.Target.Print.Group.ID)
	}
	fmt.Fprintf(&b, "  Search range: offset 0x%X size 0x%X\n\n",
		fd.Target.SearchRange.Offset, fd.Target.SearchRange.Size)

	switch v := fd.Value.(type) {
	case search.ScalarValue:
		fmt.Fprintf(&b, "  Value: 0x%X\n", v.Value)
	case search.DecryptorValue:
		code := printer.Pseudocode(printName(fd.Target), v.Decryptor)
		colored, err := colorize.ColorizePseudocode(code)
		if err != nil {
			colored = code
		}
		for _, line := range strings.Split(colored, "\n") {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n  xor1=0x%X xor2=0x%X rotate=%d shift=%d\n",
			v.Decryptor.Xor1, v.Decryptor.Xor2, v.Decryptor.Rotate, v.Decryptor.Shift)
	}
	return b.String()
}
