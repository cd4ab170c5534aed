// Package tui provides the interactive terminal UI for webtap.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/halverson/webtap/pkg/filter"
	"github.com/halverson/webtap/pkg/trace"
)

// viewMode controls which pane is shown.
type viewMode int

const (
	viewList   viewMode = iota // exchange list
	viewDetail                 // request/response detail
)

// traceEventMsg wraps a trace.Event for the Bubbletea message bus.
type traceEventMsg trace.Event

// App is the root Bubbletea model.
type App struct {
	store   *trace.Store
	eventCh chan trace.Event

	// Exchange state
	all          []*trace.Exchange
	filtered     []*trace.Exchange
	filterExpr   string
	filterParsed filter.Filter

	// View state
	mode viewMode

	// Sub-models
	table       table.Model
	detail      viewport.Model
	filterInput textinput.Model
	filterMode  bool // is the filter input active?

	// Layout
	width  int
	height int

	// Notification bar
	notice    string
	noticeExp time.Time

	webPort int
}

// New creates a new App, subscribing to the given trace store.
func New(store *trace.Store, webPort int) *App {
	eventCh := store.Subscribe()

	cols := []table.Column{
		{Title: "#", Width: 5},
		{Title: "Method", Width: 8},
		{Title: "Status", Width: 7},
		{Title: "Host", Width: 25},
		{Title: "Path", Width: 40},
		{Title: "Time", Width: 7},
		{Title: "Size", Width: 7},
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	t.SetStyles(table.Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Selected: styleRowSelected,
		Cell:     lipgloss.NewStyle(),
	})

	fi := textinput.New()
	fi.Placeholder = "filter expression (e.g. ~m POST & ~g marker)"
	fi.CharLimit = 256

	vp := viewport.New(80, 30)

	return &App{
		store:        store,
		eventCh:      eventCh,
		filterParsed: filter.MatchAll,
		table:        t,
		detail:       vp,
		filterInput:  fi,
		webPort:      webPort,
	}
}

// Init satisfies tea.Model.
func (a *App) Init() tea.Cmd {
	return waitForTraceEvent(a.eventCh)
}

// waitForTraceEvent returns a command that blocks until the next event.
func waitForTraceEvent(ch chan trace.Event) tea.Cmd {
	return func() tea.Msg {
		return traceEventMsg(<-ch)
	}
}

// Update satisfies tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()

	case traceEventMsg:
		a.applyEvent(trace.Event(msg))
		cmds = append(cmds, waitForTraceEvent(a.eventCh))

	case tea.KeyMsg:
		if a.filterMode {
			return a.updateFilterInput(msg, cmds)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "enter":
			if a.mode == viewList && len(a.filtered) > 0 {
				a.mode = viewDetail
				a.renderDetail()
			}
		case "esc", "backspace":
			if a.mode == viewDetail {
				a.mode = viewList
			}
		case "f":
			a.filterMode = true
			a.filterInput.Focus()
			return a, textinput.Blink
		case "d":
			a.store.Clear()
			a.all = nil
			a.filtered = nil
			a.rebuildTable()
			a.notify("Cleared all exchanges")
		case "up", "k", "down", "j":
			if a.mode == viewList {
				a.table, _ = a.table.Update(msg)
			} else {
				a.detail, _ = a.detail.Update(msg)
			}
		case "pgup", "pgdown":
			if a.mode == viewDetail {
				a.detail, _ = a.detail.Update(msg)
			} else {
				a.table, _ = a.table.Update(msg)
			}
		}
	}

	return a, tea.Batch(cmds...)
}

func (a *App) updateFilterInput(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		expr := a.filterInput.Value()
		f, err := filter.Parse(expr)
		if err != nil {
			a.notify(fmt.Sprintf("invalid filter: %v", err))
		} else {
			a.filterExpr = expr
			a.filterParsed = f
			a.applyFilter()
			a.notify(fmt.Sprintf("filter: %s", expr))
		}
		a.filterMode = false
		a.filterInput.Blur()
	case "esc":
		a.filterMode = false
		a.filterInput.Blur()
	default:
		var cmd tea.Cmd
		a.filterInput, cmd = a.filterInput.Update(msg)
		cmds = append(cmds, cmd)
	}
	return a, tea.Batch(cmds...)
}

// View satisfies tea.Model.
func (a *App) View() string {
	if a.width == 0 {
		return "Loading…"
	}

	var b strings.Builder

	// Title bar
	title := styleTitleBar.Width(a.width).Render(
		fmt.Sprintf(" webtap  %d exchanges  web: http://localhost:%d",
			a.store.Count(), a.webPort),
	)
	b.WriteString(title)
	b.WriteString("\n")

	contentHeight := a.height - 4 // title + help + optional filter bar

	switch a.mode {
	case viewList:
		b.WriteString(a.viewListPane(contentHeight))
	case viewDetail:
		b.WriteString(a.viewDetailPane(contentHeight))
	}

	// Filter bar
	if a.filterMode {
		b.WriteString("\n")
		b.WriteString(styleRule.Render(strings.Repeat("─", a.width)))
		b.WriteString("\n")
		b.WriteString(styleHint.Render(" Filter: ") + a.filterInput.View())
	}

	// Notice / help bar
	b.WriteString("\n")
	if a.notice != "" && time.Now().Before(a.noticeExp) {
		b.WriteString(styleHint.Width(a.width).Render(" " + a.notice))
	} else {
		if a.mode == viewList {
			b.WriteString(styleHint.Width(a.width).Render(
				" [f]ilter [d]clear [q]uit  ↑↓ navigate  ⏎ detail",
			))
		} else {
			b.WriteString(styleHint.Width(a.width).Render(
				" [esc] back  ↑↓/PgUp/PgDn scroll",
			))
		}
	}

	return b.String()
}

func (a *App) viewListPane(h int) string {
	a.table.SetHeight(h)
	return a.table.View()
}

func (a *App) viewDetailPane(h int) string {
	a.detail.Height = h
	return a.detail.View()
}

// applyEvent updates the in-memory exchange list and rebuilds the table.
func (a *App) applyEvent(evt trace.Event) {
	switch evt.Type {
	case trace.EventNew:
		a.all = append(a.all, evt.Exchange)
		if a.filterParsed(evt.Exchange) {
			a.filtered = append(a.filtered, evt.Exchange)
		}
		a.rebuildTable()
	case trace.EventComplete, trace.EventError:
		// Exchange was already added; refresh the table row.
		a.rebuildTable()
		if a.mode == viewDetail {
			a.renderDetail()
		}
	}
}

// applyFilter re-evaluates the filter against all known exchanges.
func (a *App) applyFilter() {
	a.filtered = a.filtered[:0]
	for _, e := range a.all {
		if a.filterParsed(e) {
			a.filtered = append(a.filtered, e)
		}
	}
	a.rebuildTable()
}

// rebuildTable refreshes the table rows from the filtered exchange slice.
func (a *App) rebuildTable() {
	rows := make([]table.Row, 0, len(a.filtered))
	for i, e := range a.filtered {
		n := fmt.Sprintf("%d", i+1)
		method := e.Request.Method
		status := "-"
		size := "-"
		if e.Response != nil {
			status = fmt.Sprintf("%d", e.Response.StatusCode)
			size = formatSize(len(e.Response.Body))
		} else if e.State == trace.StateError {
			status = "ERR"
		}
		dur := formatDur(e.Duration())
		rows = append(rows, table.Row{n, method, status, e.Request.Host, e.Request.Path, dur, size})
	}
	a.table.SetRows(rows)
}

// renderDetail fills the viewport with detail for the selected exchange.
func (a *App) renderDetail() {
	cursor := a.table.Cursor()
	if cursor < 0 || cursor >= len(a.filtered) {
		a.detail.SetContent("(no exchange selected)")
		return
	}
	a.detail.SetContent(renderExchangeDetail(a.filtered[cursor], a.width))
}

// notify sets a brief status notice.
func (a *App) notify(msg string) {
	a.notice = msg
	a.noticeExp = time.Now().Add(3 * time.Second)
}

// resize adjusts sub-model dimensions to match the terminal.
func (a *App) resize() {
	cols := a.table.Columns()
	// Give extra width to the path column.
	extra := a.width - 5 - 8 - 7 - 25 - 7 - 7 - 10 // approx fixed cols
	if extra > 20 {
		cols[4].Width = extra
	}
	a.table.SetColumns(cols)
	a.table.SetHeight(a.height - 4)
	a.detail.Width = a.width
	a.detail.Height = a.height - 4
	a.filterInput.Width = a.width - 12
}

// Run starts the Bubbletea program, blocking until the user quits.
func Run(ctx context.Context, store *trace.Store, webPort int) error {
	app := New(store, webPort)
	p := tea.NewProgram(app, tea.WithAltScreen())

	// Stop the program when context is cancelled.
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, err := p.Run()
	store.Unsubscribe(app.eventCh)
	return err
}

// --- helpers ---

func renderExchangeDetail(e *trace.Exchange, width int) string {
	var b strings.Builder
	half := (width - 3) / 2

	// Header
	statusStr := "-"
	if e.Response != nil {
		col := statusColor(e.Response.StatusCode)
		statusStr = lipgloss.NewStyle().Foreground(col).Bold(true).
			Render(fmt.Sprintf("%d", e.Response.StatusCode))
	} else if e.State == trace.StateError {
		statusStr = styleError.Render("ERR")
	}

	title := fmt.Sprintf("%s %s  [%s]  %s",
		styleMethod.Render(e.Request.Method),
		e.Request.Path,
		formatDur(e.Duration()),
		statusStr,
	)
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(styleRule.Render(strings.Repeat("─", width)))
	b.WriteString("\n")

	// Plugins that rewrote the response
	if len(e.RewrittenBy) > 0 {
		for _, name := range e.RewrittenBy {
			b.WriteString(styleRewriteTag.Render(name) + " ")
		}
		b.WriteString("\n\n")
	}

	// Two-column layout: request | response
	reqCol := renderRequest(e, half)
	respCol := renderResponse(e, half)

	sep := styleRule.Render("│")
	reqLines := strings.Split(reqCol, "\n")
	respLines := strings.Split(respCol, "\n")
	maxLines := len(reqLines)
	if len(respLines) > maxLines {
		maxLines = len(respLines)
	}

	colStyle := lipgloss.NewStyle().Width(half)
	for i := 0; i < maxLines; i++ {
		rl := ""
		if i < len(reqLines) {
			rl = reqLines[i]
		}
		sl := ""
		if i < len(respLines) {
			sl = respLines[i]
		}
		b.WriteString(colStyle.Render(rl))
		b.WriteString(sep)
		b.WriteString(colStyle.Render(sl))
		b.WriteString("\n")
	}

	return b.String()
}

func renderRequest(e *trace.Exchange, width int) string {
	if e.Request == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(stylePaneTitle.Width(width).Render("Request"))
	b.WriteString("\n")
	b.WriteString(styleMethod.Render(e.Request.Method) + " " + e.Request.URL)
	b.WriteString("\n")
	for k, vv := range e.Request.Headers {
		for _, v := range vv {
			b.WriteString(styleGray(k+": ") + truncateStr(v, width-len(k)-4))
			b.WriteString("\n")
		}
	}
	if len(e.Request.Body) > 0 {
		b.WriteString("\n")
		b.WriteString(prettyBody(e.Request.Headers.Get("Content-Type"), e.Request.Body))
	}
	return b.String()
}

func renderResponse(e *trace.Exchange, width int) string {
	if e.Response == nil {
		if e.Error != "" {
			return stylePaneTitle.Width(width).Render("Response") + "\n" +
				styleError.Render("Error: "+e.Error)
		}
		return stylePaneTitle.Width(width).Render("Response") + "\n(pending)"
	}
	var b strings.Builder
	col := statusColor(e.Response.StatusCode)
	b.WriteString(stylePaneTitle.Width(width).Render("Response"))
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(col).Bold(true).
		Render(fmt.Sprintf("%d", e.Response.StatusCode)))
	b.WriteString("\n")
	for k, vv := range e.Response.Headers {
		for _, v := range vv {
			b.WriteString(styleGray(k+": ") + truncateStr(v, width-len(k)-4))
			b.WriteString("\n")
		}
	}
	if len(e.Response.Body) > 0 {
		b.WriteString("\n")
		b.WriteString(prettyBody(e.Response.Headers.Get("Content-Type"), e.Response.Body))
	}
	if e.Response.BodySkipped {
		b.WriteString(styleError.Render("\n(streamed body not captured)"))
	}
	return b.String()
}

// prettyBody formats a body based on content type.
func prettyBody(contentType string, body []byte) string {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "json") {
		var v interface{}
		if err := json.Unmarshal(body, &v); err == nil {
			pretty, err := json.MarshalIndent(v, "", "  ")
			if err == nil {
				return string(pretty)
			}
		}
	}
	// Fallback: return as string, truncated.
	s := string(body)
	if len(s) > 2000 {
		s = s[:2000] + "…"
	}
	return s
}

func styleGray(s string) string {
	return lipgloss.NewStyle().Foreground(colorDim).Render(s)
}

func truncateStr(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func formatDur(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

func formatSize(n int) string {
	switch {
	case n == 0:
		return "0"
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/1024/1024)
	}
}
