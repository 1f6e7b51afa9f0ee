package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JeffJna/instant-meeting-insights/internal/alert"
	"github.com/JeffJna/instant-meeting-insights/internal/capture"
	"github.com/JeffJna/instant-meeting-insights/internal/device"
	"github.com/JeffJna/instant-meeting-insights/internal/events"
	"github.com/JeffJna/instant-meeting-insights/internal/stream"
	"github.com/JeffJna/instant-meeting-insights/internal/transcript"
)

const requestTimeout = 10 * time.Second

// focus tracks which panel has keyboard focus.
type focus int

const (
	focusTranscript focus = iota
	focusRules
)

// entry is a final segment with the keyword matches found in it.
type entry struct {
	segment transcript.Segment
	matches []alert.Match
}

// Model is the bubbletea model for the live meeting view.
type Model struct {
	client *Client
	events *EventStream

	connected        bool
	connError        string
	reconnecting     bool
	reconnectAttempt int

	status      stream.Status
	devices     []device.Device
	deviceIndex int

	entries  []entry
	byID     map[string]int
	pending  map[string][]alert.Match
	interims map[string]transcript.Segment

	rules        []alert.Rule
	selectedRule int
	lastTrigger  *alert.Trigger

	focused focus
	width   int
	height  int

	// keyword input
	inputActive   bool
	inputText     string
	inputPriority alert.Priority

	notice    string
	noticeErr bool
	noticeSeq int
}

// New creates a model that talks to the API through client.
func New(client *Client) Model {
	return Model{
		client:        client,
		byID:          make(map[string]int),
		pending:       make(map[string][]alert.Match),
		interims:      make(map[string]transcript.Segment),
		inputPriority: alert.Medium,
	}
}

// Run starts the TUI against the API at addr and blocks until it exits.
func Run(addr string) error {
	_, err := tea.NewProgram(New(NewClient(addr)), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return connectCmd(m.client)
}

func connectCmd(client *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		status, err := client.Status(ctx)
		if err != nil {
			return connectErrorMsg{err: err}
		}
		devices, err := client.Devices(ctx)
		if err != nil {
			return connectErrorMsg{err: err}
		}
		rules, err := client.Rules(ctx)
		if err != nil {
			return connectErrorMsg{err: err}
		}
		segments, err := client.Transcript(ctx)
		if err != nil {
			return connectErrorMsg{err: err}
		}
		es, err := client.Events(ctx)
		if err != nil {
			return connectErrorMsg{err: err}
		}
		return connectedMsg{stream: es, status: status, devices: devices, rules: rules, transcript: segments}
	}
}

func readEventCmd(es *EventStream) tea.Cmd {
	return func() tea.Msg {
		e, err := es.Next()
		if err != nil {
			return eventErrorMsg{err: err}
		}
		return eventMsg{event: e}
	}
}

func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return reconnectTickMsg{}
	})
}

func clearNoticeCmd(seq int) tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return clearNoticeMsg{seq: seq}
	})
}

// apiCmd runs fn with a timeout and turns its result into a message.
func apiCmd(fn func(ctx context.Context) (tea.Msg, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		msg, err := fn(ctx)
		if err != nil {
			return apiErrorMsg{err: err}
		}
		return msg
	}
}

func (m Model) startCmd(deviceID string) tea.Cmd {
	client := m.client
	return apiCmd(func(ctx context.Context) (tea.Msg, error) {
		if err := client.Start(ctx, deviceID); err != nil {
			return nil, err
		}
		st, err := client.Status(ctx)
		return statusMsg{status: st}, err
	})
}

func (m Model) stopCmd() tea.Cmd {
	client := m.client
	return apiCmd(func(ctx context.Context) (tea.Msg, error) {
		if err := client.Stop(ctx); err != nil {
			return nil, err
		}
		st, err := client.Status(ctx)
		return statusMsg{status: st}, err
	})
}

func (m Model) devicesCmd() tea.Cmd {
	client := m.client
	return apiCmd(func(ctx context.Context) (tea.Msg, error) {
		devices, err := client.Devices(ctx)
		return devicesMsg{devices: devices}, err
	})
}

func (m Model) addRuleCmd(keyword string, priority alert.Priority) tea.Cmd {
	client := m.client
	return apiCmd(func(ctx context.Context) (tea.Msg, error) {
		if _, err := client.AddRule(ctx, keyword, priority); err != nil {
			return nil, err
		}
		rules, err := client.Rules(ctx)
		return rulesMsg{rules: rules}, err
	})
}

func (m Model) removeRuleCmd(id string) tea.Cmd {
	client := m.client
	return apiCmd(func(ctx context.Context) (tea.Msg, error) {
		if err := client.RemoveRule(ctx, id); err != nil {
			return nil, err
		}
		rules, err := client.Rules(ctx)
		return rulesMsg{rules: rules}, err
	})
}

func (m Model) toggleSoundCmd(rule alert.Rule) tea.Cmd {
	client := m.client
	return apiCmd(func(ctx context.Context) (tea.Msg, error) {
		if _, err := client.SetSound(ctx, rule.ID, !rule.SoundEnabled); err != nil {
			return nil, err
		}
		rules, err := client.Rules(ctx)
		return rulesMsg{rules: rules}, err
	})
}

func (m Model) summaryCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		// Minutes may come from a remote model.
		ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
		defer cancel()
		doc, path, err := client.Summarize(ctx, true)
		if err != nil {
			return apiErrorMsg{err: err}
		}
		return summaryMsg{title: doc.Title, path: path}
	}
}

func (m Model) clearTranscriptCmd() tea.Cmd {
	client := m.client
	return apiCmd(func(ctx context.Context) (tea.Msg, error) {
		return transcriptClearedMsg{}, client.ClearTranscript(ctx)
	})
}

func (m *Model) setNotice(text string, isErr bool) tea.Cmd {
	m.noticeSeq++
	m.notice = text
	m.noticeErr = isErr
	return clearNoticeCmd(m.noticeSeq)
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		if m.inputActive {
			return m.handleInputKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case connectedMsg:
		m.events = msg.stream
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.status = msg.status
		m.setDevices(msg.devices)
		m.rules = msg.rules
		m.resetTranscript()
		for _, seg := range msg.transcript {
			m.addFinal(seg)
		}
		return m, readEventCmd(m.events)

	case connectErrorMsg:
		m.connected = false
		m.connError = msg.err.Error()
		m.reconnecting = true
		return m, reconnectCmd(m.reconnectAttempt)

	case eventMsg:
		m.handleEvent(msg.event)
		return m, readEventCmd(m.events)

	case eventErrorMsg:
		m.connected = false
		m.connError = msg.err.Error()
		m.reconnecting = true
		if m.events != nil {
			m.events.Close()
			m.events = nil
		}
		return m, reconnectCmd(m.reconnectAttempt)

	case reconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.client)

	case statusMsg:
		m.status = msg.status
		return m, nil

	case devicesMsg:
		m.setDevices(msg.devices)
		return m, nil

	case rulesMsg:
		m.rules = msg.rules
		m.clampSelection()
		return m, nil

	case summaryMsg:
		text := "Ata gerada: " + msg.title
		if msg.path != "" {
			text = "Ata salva em " + msg.path
		}
		return m, m.setNotice(text, false)

	case transcriptClearedMsg:
		m.resetTranscript()
		return m, m.setNotice("Transcrição limpa", false)

	case apiErrorMsg:
		var apiErr *APIError
		text := msg.err.Error()
		if errors.As(msg.err, &apiErr) {
			text = apiErr.Message
		}
		return m, m.setNotice(text, true)

	case clearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
			m.noticeErr = false
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) setDevices(devices []device.Device) {
	m.devices = devices
	if m.deviceIndex >= len(devices) {
		m.deviceIndex = 0
	}
	// Follow the device of a running session.
	for i, d := range devices {
		if d.ID == m.status.Session.Device.ID {
			m.deviceIndex = i
		}
	}
}

func (m *Model) resetTranscript() {
	m.entries = nil
	m.byID = make(map[string]int)
	m.pending = make(map[string][]alert.Match)
	m.interims = make(map[string]transcript.Segment)
}

func (m *Model) addFinal(seg transcript.Segment) {
	delete(m.interims, seg.ID)
	if _, ok := m.byID[seg.ID]; ok {
		return
	}
	m.byID[seg.ID] = len(m.entries)
	m.entries = append(m.entries, entry{segment: seg, matches: m.pending[seg.ID]})
	delete(m.pending, seg.ID)
}

func (m *Model) clampSelection() {
	if m.selectedRule >= len(m.rules) {
		m.selectedRule = max(0, len(m.rules)-1)
	}
}

// handleEvent applies one bus event to the model.
func (m *Model) handleEvent(e Event) {
	switch e.Type {
	case events.SegmentInterim:
		var seg transcript.Segment
		if e.Decode(&seg) == nil {
			if _, done := m.byID[seg.ID]; !done {
				m.interims[seg.ID] = seg
			}
		}

	case events.SegmentFinal:
		var seg transcript.Segment
		if e.Decode(&seg) == nil {
			m.addFinal(seg)
		}

	case events.AlertEvaluation:
		var ev alert.Evaluation
		if e.Decode(&ev) != nil {
			return
		}
		if i, ok := m.byID[ev.Segment.ID]; ok {
			m.entries[i].matches = ev.Matches
		} else {
			m.pending[ev.Segment.ID] = ev.Matches
		}
		if ev.Trigger != nil {
			m.lastTrigger = ev.Trigger
		}

	case events.SessionState:
		var change capture.StateChange
		if e.Decode(&change) != nil {
			return
		}
		m.status.Session = change.Session
		m.status.Running = change.To == capture.Active
		if change.To == capture.Idle {
			m.interims = make(map[string]transcript.Segment)
		}

	case events.RuleChanged:
		var change alert.Change
		if e.Decode(&change) != nil {
			return
		}
		m.applyRuleChange(change)

	case events.TranscriptReset:
		m.resetTranscript()
	}
}

func (m *Model) applyRuleChange(change alert.Change) {
	idx := -1
	for i, r := range m.rules {
		if r.ID == change.Rule.ID {
			idx = i
			break
		}
	}

	switch change.Kind {
	case alert.RuleAdded:
		if idx < 0 {
			m.rules = append(m.rules, change.Rule)
		}
	case alert.RuleUpdated:
		if idx >= 0 {
			m.rules[idx] = change.Rule
		}
	case alert.RuleRemoved:
		if idx >= 0 {
			m.rules = append(m.rules[:idx], m.rules[idx+1:]...)
		}
	}
	m.clampSelection()
}

func (m Model) sessionActive() bool {
	switch m.status.Session.State {
	case capture.Starting, capture.Active, capture.Failed:
		return true
	}
	return false
}

// handleKey processes key presses outside keyword input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		if m.events != nil {
			m.events.Close()
		}
		return m, tea.Quit
	}

	if !m.connected {
		return m, nil
	}

	switch msg.String() {
	case " ":
		if m.sessionActive() {
			return m, m.stopCmd()
		}
		if len(m.devices) == 0 {
			return m, m.setNotice("Nenhum dispositivo de áudio encontrado", true)
		}
		return m, m.startCmd(m.devices[m.deviceIndex].ID)

	case "i":
		if len(m.devices) > 0 && !m.sessionActive() {
			m.deviceIndex = (m.deviceIndex + 1) % len(m.devices)
		}
		return m, nil

	case "r":
		return m, m.devicesCmd()

	case "tab":
		if m.focused == focusRules {
			m.focused = focusTranscript
		} else {
			m.focused = focusRules
		}
		return m, nil

	case "j", "down":
		if m.focused == focusRules && m.selectedRule < len(m.rules)-1 {
			m.selectedRule++
		}
		return m, nil

	case "k", "up":
		if m.focused == focusRules && m.selectedRule > 0 {
			m.selectedRule--
		}
		return m, nil

	case "n", "+":
		m.inputActive = true
		m.inputText = ""
		m.inputPriority = alert.Medium
		return m, nil

	case "d", "delete":
		if m.focused == focusRules && m.selectedRule < len(m.rules) {
			return m, m.removeRuleCmd(m.rules[m.selectedRule].ID)
		}
		return m, nil

	case "m":
		if m.focused == focusRules && m.selectedRule < len(m.rules) {
			return m, m.toggleSoundCmd(m.rules[m.selectedRule])
		}
		return m, nil

	case "s":
		return m, tea.Batch(m.setNotice("Gerando ata...", false), m.summaryCmd())

	case "c":
		return m, m.clearTranscriptCmd()
	}

	return m, nil
}

// handleInputKey edits the keyword being added. Tab cycles the priority.
func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.inputActive = false
		return m, nil

	case tea.KeyEnter:
		m.inputActive = false
		keyword := strings.TrimSpace(m.inputText)
		if keyword == "" {
			return m, nil
		}
		return m, m.addRuleCmd(keyword, m.inputPriority)

	case tea.KeyTab:
		m.inputPriority = m.inputPriority%alert.High + 1
		return m, nil

	case tea.KeyBackspace:
		if r := []rune(m.inputText); len(r) > 0 {
			m.inputText = string(r[:len(r)-1])
		}
		return m, nil

	case tea.KeySpace:
		m.inputText += " "
		return m, nil

	case tea.KeyRunes:
		m.inputText += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m Model) rulesPanelWidth() int {
	if m.width == 0 {
		return 28
	}
	return max(22, m.width*28/100)
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// header, status, two dividers, alert, notice, footer
	return max(5, m.height-7)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Iniciando..."
	}

	divider := dividerStyle.Render(strings.Repeat("─", m.width))
	sections := []string{
		m.renderHeader(),
		m.renderStatusBar(),
		divider,
		m.renderMain(),
		divider,
		m.renderAlert(),
		m.renderNotice(),
		m.renderFooter(),
	}
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("INSTANT MEETING INSIGHTS")
	if len(m.devices) > 0 {
		title += dimStyle.Render("  " + m.devices[m.deviceIndex].Label)
	}
	return title
}

func (m Model) renderStatusBar() string {
	if !m.connected {
		if m.reconnecting {
			return errorStyle.Render("✖ API indisponível, reconectando... ") + dimStyle.Render(m.connError)
		}
		return dimStyle.Render("Conectando...")
	}

	var dot string
	switch m.status.Session.State {
	case capture.Active:
		dot = recordingStyle.Render("● GRAVANDO")
	case capture.Starting:
		dot = recordingStyle.Render("◌ INICIANDO")
	case capture.Failed:
		dot = errorStyle.Render("✖ FALHA: " + m.status.Session.Error)
	default:
		dot = idleStyle.Render("○ PARADO")
	}

	info := fmt.Sprintf("  %d falas  %d regras", len(m.entries), len(m.rules))
	return dot + dimStyle.Render(info)
}

func (m Model) renderMain() string {
	height := m.contentHeight()
	rulesW := m.rulesPanelWidth()
	transcriptW := max(20, m.width-rulesW-1)

	left := m.renderRules(rulesW, height)
	right := m.renderTranscript(transcriptW, height)

	sep := dividerStyle.Render("│")
	rows := make([]string, height)
	for i := range rows {
		rows[i] = left[i] + sep + right[i]
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderRules(width, height int) []string {
	title := fmt.Sprintf("PALAVRAS-CHAVE (%d)", len(m.rules))
	var lines []string
	if m.focused == focusRules {
		lines = append(lines, panelTitleActiveStyle.Render(padRight(title, width)))
	} else {
		lines = append(lines, panelTitleStyle.Render(padRight(title, width)))
	}

	if m.inputActive {
		prompt := fmt.Sprintf("+ %s▌ [%s]", m.inputText, m.inputPriority)
		lines = append(lines, selectedStyle.Render(padRight(truncate(prompt, width), width)))
	}

	if len(m.rules) == 0 {
		lines = append(lines, dimStyle.Render(padRight("  nenhuma regra", width)))
	}
	for i, r := range m.rules {
		sound := "♪"
		if !r.SoundEnabled {
			sound = " "
		}
		text := padRight(truncate(fmt.Sprintf("%s %s %s", sound, r.Keyword, r.Priority), width-2), width-2)
		style := highlightStyle(r.Priority).UnsetUnderline()
		if i == m.selectedRule && m.focused == focusRules {
			lines = append(lines, selectedStyle.Render("> ")+style.Render(text))
		} else {
			lines = append(lines, "  "+style.Render(text))
		}
	}

	return fitLines(lines, height, width)
}

func (m Model) renderTranscript(width, height int) []string {
	lines := []string{panelTitleStyle.Render("TRANSCRIÇÃO")}

	if !m.connected {
		return fitLines(lines, height, 0)
	}

	var body []string
	for _, e := range m.entries {
		ts := timestampStyle.Render(e.segment.Timestamp.Local().Format("[15:04:05] "))
		text := truncate(e.segment.Text, width-12)
		body = append(body, ts+highlight(text, e.matches))
	}

	ids := make([]string, 0, len(m.interims))
	for id := range m.interims {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.interims[ids[i]].Timestamp.Before(m.interims[ids[j]].Timestamp)
	})
	for _, id := range ids {
		seg := m.interims[id]
		body = append(body, interimStyle.Render(truncate("           "+seg.Text+"▌", width)))
	}

	if len(body) == 0 {
		body = append(body, dimStyle.Render("  Pressione Espaço para começar"))
	}

	// Keep the newest lines visible.
	if visible := height - 1; len(body) > visible {
		body = body[len(body)-visible:]
	}
	return fitLines(append(lines, body...), height, 0)
}

func (m Model) renderAlert() string {
	if m.lastTrigger == nil {
		return ""
	}
	t := m.lastTrigger
	style := alertBannerStyle.Background(priorityColor(t.Rule.Priority))
	return style.Render(fmt.Sprintf(" ALERTA %s ", strings.ToUpper(t.Rule.Keyword))) +
		dimStyle.Render(" "+t.FiredAt.Local().Format("15:04:05")+"  "+truncate(t.Segment.Text, max(10, m.width-30)))
}

func (m Model) renderNotice() string {
	if m.notice == "" {
		return ""
	}
	if m.noticeErr {
		return errorStyle.Render(m.notice)
	}
	return dimStyle.Render(m.notice)
}

func (m Model) renderFooter() string {
	keys := [][2]string{
		{"espaço", "gravar/parar"},
		{"i", "dispositivo"},
		{"n", "nova palavra"},
		{"tab", "foco"},
		{"d", "remover"},
		{"m", "som"},
		{"s", "ata"},
		{"c", "limpar"},
		{"q", "sair"},
	}
	if m.inputActive {
		keys = [][2]string{{"enter", "salvar"}, {"tab", "prioridade"}, {"esc", "cancelar"}}
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = footerKeyStyle.Render(k[0]) + dimStyle.Render(" "+k[1])
	}
	return strings.Join(parts, "  ")
}

// highlight styles the matched spans of text, coloured by the highest
// priority covering each rune. Spans past the end of text are ignored.
func highlight(text string, matches []alert.Match) string {
	if len(matches) == 0 {
		return text
	}
	runes := []rune(text)
	prio := make([]alert.Priority, len(runes))
	for _, mt := range matches {
		for _, sp := range mt.Spans {
			for i := max(sp.Start, 0); i < sp.End && i < len(runes); i++ {
				if mt.Priority > prio[i] {
					prio[i] = mt.Priority
				}
			}
		}
	}

	var b strings.Builder
	for start := 0; start < len(runes); {
		end := start + 1
		for end < len(runes) && prio[end] == prio[start] {
			end++
		}
		chunk := string(runes[start:end])
		if prio[start] == 0 {
			b.WriteString(chunk)
		} else {
			b.WriteString(highlightStyle(prio[start]).Render(chunk))
		}
		start = end
	}
	return b.String()
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 0 || len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

func padRight(s string, width int) string {
	n := len([]rune(s))
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// fitLines pads or cuts lines to exactly height entries. A positive width
// pads blank lines to that width.
func fitLines(lines []string, height, width int) []string {
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return lines
}
