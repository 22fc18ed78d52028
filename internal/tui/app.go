package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"thinkgate/internal/llm"
	"thinkgate/internal/pipeline"
	sessionstore "thinkgate/internal/session"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultAppWidth         = 100
	defaultInspectorWidth   = 36
	minimumChatPanelWidth   = 40
	minimumInspectorVisible = 22
	defaultMaxTokens        = 1024
)

// StreamRunner executes one request and returns a streaming channel.
type StreamRunner interface {
	Run(ctx context.Context, req *llm.Request) (<-chan llm.Event, error)
}

// MessageQueuer accepts messages queued while a stream is active. The agent
// satisfies this; runners that do not cannot queue.
type MessageQueuer interface {
	Steer(msg llm.Message)
	FollowUp(msg llm.Message)
}

// AppConfig configures the root BubbleTea model.
type AppConfig struct {
	Version       string
	ModelName     string
	CWD           string
	SessionID     string
	ThemeName     string
	ShowInspector bool
	Runner        StreamRunner
	MaxTokens     int
	Tools         []llm.ToolSpec
	SessionStore  *sessionstore.Store
	// Decision reports the latest pipeline decision after a run starts,
	// typically (*agent.Agent).LastDecision.
	Decision func() *pipeline.Decision
}

// StreamEventMsg wraps one llm event for app updates.
type StreamEventMsg struct {
	Event llm.Event
}

type streamReadMsg struct {
	Event  llm.Event
	Closed bool
}

type queuedNote struct {
	Mode string
	Text string
}

type selectorItem struct {
	Value string
	Label string
}

type selectorState struct {
	Title  string
	Items  []selectorItem
	Cursor int
}

// App is the root TUI model. It owns the visible conversation history and
// feeds it to the runner on each submit; request transformation and loop
// detection happen inside the runner.
type App struct {
	theme         Theme
	showInspector bool

	runner     StreamRunner
	modelName  string
	cwd        string
	maxTokens  int
	tools      []llm.ToolSpec
	decisionFn func() *pipeline.Decision

	width  int
	height int

	status    StatusModel
	chat      ChatModel
	input     InputModel
	inspector InspectorModel

	store     *sessionstore.Store
	recorder  *SessionRecorder
	sessionID string
	messages  []llm.Message
	queued    []queuedNote
	selector  *selectorState

	assistantBuffer strings.Builder
	activeStream    <-chan llm.Event
}

// NewApp constructs the root TUI model with defaults.
func NewApp(cfg AppConfig) *App {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	sessionID := strings.TrimSpace(cfg.SessionID)
	if sessionID == "" {
		sessionID = newSessionID()
	}

	model := &App{
		theme:         ResolveTheme(cfg.ThemeName),
		showInspector: cfg.ShowInspector,
		runner:        cfg.Runner,
		modelName:     strings.TrimSpace(cfg.ModelName),
		cwd:           strings.TrimSpace(cfg.CWD),
		maxTokens:     maxTokens,
		tools:         cloneToolSpecs(cfg.Tools),
		decisionFn:    cfg.Decision,
		status:        NewStatusModel(cfg.Version, cfg.ModelName, cfg.CWD, sessionID),
		chat:          NewChatModel(0),
		input:         NewInputModel(">", "Type message and press Enter"),
		inspector:     NewInspectorModel(),
		store:         cfg.SessionStore,
		sessionID:     sessionID,
	}

	if model.width == 0 {
		model.width = defaultAppWidth
	}

	model.openRecorder()
	model.status.SetState("idle")
	return model
}

// Init starts background commands if needed.
func (m *App) Init() tea.Cmd {
	return nil
}

// Update applies state changes from user input and runtime events.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chat.SetViewportHeight(m.chatViewportHeight())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.selector != nil {
				return m, m.cancelSelector()
			}
			if strings.TrimSpace(m.input.Value()) == "" && m.activeStream == nil {
				return m, tea.Quit
			}
		}

		if m.selector != nil {
			return m, m.handleSelectorKey(msg)
		}
		if m.handleChatScrollKey(msg) {
			return m, nil
		}

		if msg.Type == tea.KeyEnter && (msg.Alt || msg.String() == "alt+enter") {
			content := strings.TrimSpace(m.input.Value())
			m.input.Clear()
			return m, m.handleInputSubmit(content, true)
		}

		if submitted := m.input.HandleKey(msg); submitted {
			content := strings.TrimSpace(m.input.Value())
			m.input.Clear()
			return m, m.handleInputSubmit(content, false)
		}
		return m, nil

	case StreamEventMsg:
		m.consumeEvent(msg.Event)
		if m.activeStream != nil {
			return m, readStreamEventCommand(m.activeStream)
		}
		return m, nil

	case streamReadMsg:
		if msg.Closed {
			if m.recorder != nil {
				if err := m.recorder.Finalize(context.Background()); err != nil {
					m.appendErrorMessage(err.Error())
				}
			}
			m.activeStream = nil
			m.queued = nil
			return m, nil
		}
		m.consumeEvent(msg.Event)
		if m.activeStream != nil {
			return m, readStreamEventCommand(m.activeStream)
		}
		return m, nil

	case llm.Event:
		m.consumeEvent(msg)
		if m.activeStream != nil {
			return m, readStreamEventCommand(m.activeStream)
		}
		return m, nil
	}

	return m, nil
}

// View renders status bar, chat, optional inspector, and input line.
func (m *App) View() string {
	width := m.width
	if width <= 0 {
		width = defaultAppWidth
	}

	statusLine := m.status.Render(width, m.theme)
	body := m.renderBody(width)
	inputLine := m.input.Render(width, m.theme)
	return strings.Join([]string{statusLine, body, inputLine}, "\n")
}

func (m *App) handleInputSubmit(content string, followUp bool) tea.Cmd {
	if content == "" {
		return nil
	}

	if strings.HasPrefix(content, "/") {
		return m.handleSlashCommand(content)
	}

	if m.activeStream != nil {
		queuer, ok := m.runner.(MessageQueuer)
		if !ok {
			m.appendErrorMessage("agent is busy")
			return nil
		}
		msg := llm.NewTextMessage(llm.RoleUser, content)
		mode := "steer"
		if followUp {
			mode = "follow-up"
			queuer.FollowUp(msg)
		} else {
			queuer.Steer(msg)
		}
		m.queued = append(m.queued, queuedNote{Mode: mode, Text: content})
		m.chat.Append("assistant", fmt.Sprintf("Queued %s message.", mode))
		return nil
	}

	if m.runner == nil {
		m.appendErrorMessage("runner is not configured")
		return nil
	}

	m.chat.Append("user", content)
	m.inspector.IncrementTurn()
	m.messages = append(m.messages, llm.NewTextMessage(llm.RoleUser, content))
	m.record(func(ctx context.Context) error {
		return m.recorder.AppendUser(ctx, content)
	})

	stream, err := m.runner.Run(context.Background(), &llm.Request{
		Model:     m.modelName,
		Messages:  llm.CloneMessages(m.messages),
		Tools:     cloneToolSpecs(m.tools),
		MaxTokens: m.maxTokens,
	})
	if err != nil {
		m.appendErrorMessage(err.Error())
		return nil
	}

	m.refreshDecision()
	return m.startStream(stream)
}

func (m *App) handleSlashCommand(content string) tea.Cmd {
	fields := strings.Fields(content)
	command := fields[0]
	args := fields[1:]

	switch command {
	case "/help":
		m.chat.Append("assistant", strings.Join([]string{
			"Slash commands:",
			"  /help              show this help",
			"  /clear             clear chat and conversation history",
			"  /decision          show the latest pipeline decision",
			"  /queue             list queued steer/follow-up messages",
			"  /new               start a fresh session",
			"  /resume [id]       resume a session (selector without id)",
		}, "\n"))
	case "/clear":
		m.chat.Clear()
		m.messages = nil
		m.chat.Append("assistant", "Cleared conversation.")
	case "/decision":
		m.refreshDecision()
		if m.inspector.Decision == nil {
			m.chat.Append("assistant", "No pipeline decision yet.")
			return nil
		}
		raw, err := json.MarshalIndent(m.inspector.Decision, "", "  ")
		if err != nil {
			m.appendErrorMessage(err.Error())
			return nil
		}
		m.chat.Append("assistant", string(raw))
	case "/queue":
		if len(m.queued) == 0 {
			m.chat.Append("assistant", "Queue is empty.")
			return nil
		}
		lines := make([]string, 0, len(m.queued)+1)
		lines = append(lines, "Queued messages:")
		for _, note := range m.queued {
			lines = append(lines, fmt.Sprintf("  - %s: %s", note.Mode, note.Text))
		}
		m.chat.Append("assistant", strings.Join(lines, "\n"))
	case "/new":
		if m.activeStream != nil {
			m.appendErrorMessage("cannot switch sessions while streaming")
			return nil
		}
		m.switchSession(newSessionID())
		m.chat.Append("assistant", "Started session "+m.sessionID+".")
	case "/resume":
		if m.activeStream != nil {
			m.appendErrorMessage("cannot switch sessions while streaming")
			return nil
		}
		if len(args) > 0 {
			m.resumeSession(args[0])
			return nil
		}
		return m.openResumeSelector()
	default:
		m.appendErrorMessage("unknown command " + command + " (try /help)")
	}
	return nil
}

func (m *App) openResumeSelector() tea.Cmd {
	if m.store == nil {
		m.appendErrorMessage("no session store configured")
		return nil
	}
	infos, err := m.store.List(context.Background())
	if err != nil {
		m.appendErrorMessage(err.Error())
		return nil
	}
	if len(infos) == 0 {
		m.chat.Append("assistant", "No sessions found.")
		return nil
	}

	items := make([]selectorItem, 0, len(infos))
	cursor := 0
	for index, info := range infos {
		label := fmt.Sprintf("%s  (%s)", info.ID, info.UpdatedAt.Format(time.DateTime))
		if info.ID == m.sessionID {
			label = label + "  [current]"
			cursor = index
		}
		items = append(items, selectorItem{Value: info.ID, Label: label})
	}

	m.selector = &selectorState{
		Title:  "Select Session",
		Items:  items,
		Cursor: cursor,
	}
	return nil
}

func (m *App) handleSelectorKey(msg tea.KeyMsg) tea.Cmd {
	if m.selector == nil {
		return nil
	}

	switch msg.Type {
	case tea.KeyEsc:
		return m.cancelSelector()
	case tea.KeyUp:
		m.selector.Cursor--
		if m.selector.Cursor < 0 {
			m.selector.Cursor = len(m.selector.Items) - 1
		}
		return nil
	case tea.KeyDown:
		m.selector.Cursor++
		if m.selector.Cursor >= len(m.selector.Items) {
			m.selector.Cursor = 0
		}
		return nil
	case tea.KeyEnter:
		return m.confirmSelector()
	default:
		return nil
	}
}

func (m *App) cancelSelector() tea.Cmd {
	if m.selector == nil {
		return nil
	}
	m.selector = nil
	m.chat.Append("assistant", "Selection cancelled.")
	return nil
}

func (m *App) confirmSelector() tea.Cmd {
	if m.selector == nil || len(m.selector.Items) == 0 {
		m.selector = nil
		return nil
	}
	selected := m.selector.Items[m.selector.Cursor]
	m.selector = nil
	m.resumeSession(selected.Value)
	return nil
}

func (m *App) resumeSession(sessionID string) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		m.appendErrorMessage("session id is required")
		return
	}

	m.switchSession(id)
	if m.store != nil {
		entries, err := m.store.Load(context.Background(), id)
		if err != nil && !errors.Is(err, sessionstore.ErrSessionNotFound) {
			m.appendErrorMessage(err.Error())
			return
		}
		m.rebuildFromEntries(entries)
	}
	m.chat.Append("assistant", "Resumed session "+id+".")
}

func (m *App) switchSession(sessionID string) {
	m.sessionID = sessionID
	m.status.SessionID = sessionID
	m.chat.Clear()
	m.messages = nil
	m.queued = nil
	m.inspector = NewInspectorModel()
	m.openRecorder()
}

func (m *App) rebuildFromEntries(entries []sessionstore.Entry) {
	for _, entry := range entries {
		switch entry.Type {
		case sessionstore.EntryTypeUser:
			if text := strings.TrimSpace(entry.Content); text != "" {
				m.chat.Append("user", text)
				m.messages = append(m.messages, llm.NewTextMessage(llm.RoleUser, text))
				m.inspector.IncrementTurn()
			}
		case sessionstore.EntryTypeAssistant:
			if text := strings.TrimSpace(entry.Content); text != "" {
				m.chat.Append("assistant", text)
				m.messages = append(m.messages, llm.NewTextMessage(llm.RoleAssistant, text))
			}
		case sessionstore.EntryTypeCorrective:
			m.inspector.RecordCorrective()
		case sessionstore.EntryTypeDecision:
			if decision, err := entry.DecodeDecision(); err == nil {
				m.inspector.SetDecision(&decision)
				m.status.SetThinking(decision.Thinking)
			}
		}
	}
}

func (m *App) startStream(stream <-chan llm.Event) tea.Cmd {
	if stream == nil {
		return nil
	}
	m.activeStream = stream
	m.status.SetState("streaming")
	m.inspector.SetState("streaming")
	return readStreamEventCommand(stream)
}

func readStreamEventCommand(stream <-chan llm.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-stream
		if !ok {
			return streamReadMsg{Closed: true}
		}
		return streamReadMsg{Event: event}
	}
}

func (m *App) consumeEvent(ev llm.Event) {
	m.record(func(ctx context.Context) error {
		return m.recorder.RecordEvent(ctx, ev)
	})

	switch ev.Type {
	case llm.EventStart:
		m.status.SetState("streaming")
		m.inspector.SetState("streaming")
	case llm.EventContentBlockStart:
		if ev.ContentBlockStart != nil && ev.ContentBlockStart.Type == "text" && ev.ContentBlockStart.Text != "" {
			m.assistantBuffer.WriteString(ev.ContentBlockStart.Text)
			m.status.SetState("streaming")
			m.inspector.SetState("streaming")
		}
	case llm.EventTextDelta:
		m.assistantBuffer.WriteString(ev.TextDelta)
		m.status.SetState("streaming")
		m.inspector.SetState("streaming")
	case llm.EventCorrective:
		m.inspector.RecordCorrective()
		if ev.Message != nil {
			m.messages = append(m.messages, llm.CloneMessage(*ev.Message))
		}
		m.chat.Append("assistant", "[loop detected, corrective directive injected]")
	case llm.EventToolCallStart:
		if ev.ToolCall != nil {
			m.inspector.RecordToolCall(ev.ToolCall.Name)
			m.status.SetState("tool_executing")
			m.inspector.SetState("tool_executing")
		}
	case llm.EventUsage:
		if ev.Usage != nil {
			m.inspector.SetUsage(*ev.Usage)
		}
	case llm.EventDone:
		if ev.Done != nil && ev.Done.Reason == llm.StopReasonToolUse {
			// tool_use is an intermediate terminal from one provider turn;
			// the agent loop continues streaming.
			m.flushAssistantBuffer()
			m.status.SetState("streaming")
			m.inspector.SetState("streaming")
			return
		}
		m.flushAssistantBuffer()
		m.status.SetState("idle")
		m.inspector.SetState("idle")
		m.activeStream = nil
		m.queued = nil
	case llm.EventError:
		m.flushAssistantBuffer()
		errText := "stream error"
		if ev.Err != nil {
			errText = ev.Err.Error()
		}
		m.appendErrorMessage(errText)
		m.activeStream = nil
		m.queued = nil
	}
}

func (m *App) refreshDecision() {
	if m.decisionFn == nil {
		return
	}
	decision := m.decisionFn()
	if decision == nil {
		return
	}
	m.inspector.SetDecision(decision)
	m.status.SetThinking(decision.Thinking)
	m.record(func(ctx context.Context) error {
		return m.recorder.AppendDecision(ctx, *decision)
	})
}

func (m *App) openRecorder() {
	if m.store == nil {
		m.recorder = nil
		return
	}
	recorder, err := OpenSessionRecorder(context.Background(), m.store, m.sessionID)
	if err != nil {
		m.recorder = nil
		m.appendErrorMessage(err.Error())
		return
	}
	m.recorder = recorder
	m.record(func(ctx context.Context) error {
		return m.recorder.AppendMeta(ctx, map[string]any{
			"model": m.modelName,
			"cwd":   m.cwd,
		})
	})
}

func (m *App) record(fn func(ctx context.Context) error) {
	if m.recorder == nil {
		return
	}
	if err := fn(context.Background()); err != nil {
		m.appendErrorMessage(err.Error())
	}
}

func (m *App) appendErrorMessage(errText string) {
	message := "Error: " + strings.TrimSpace(errText)
	m.chat.Append("assistant", message)
	m.status.SetState("error")
	m.inspector.SetState("error")
}

func (m *App) flushAssistantBuffer() {
	text := strings.TrimSpace(m.assistantBuffer.String())
	if text != "" {
		m.chat.Append("assistant", text)
		m.messages = append(m.messages, llm.NewTextMessage(llm.RoleAssistant, text))
	}
	m.assistantBuffer.Reset()
}

func (m *App) renderBody(width int) string {
	m.chat.SetViewportHeight(m.chatViewportHeight())
	if m.selector != nil {
		return m.renderSelectorBody(width)
	}

	if !m.showInspector {
		return m.chat.Render(width, m.theme)
	}

	inspectorWidth := defaultInspectorWidth
	if width/3 < inspectorWidth {
		inspectorWidth = width / 3
	}
	if inspectorWidth < minimumInspectorVisible {
		inspectorWidth = minimumInspectorVisible
	}

	chatWidth := width - inspectorWidth - 1
	if chatWidth < minimumChatPanelWidth {
		chatWidth = minimumChatPanelWidth
		inspectorWidth = width - chatWidth - 1
		if inspectorWidth < 0 {
			inspectorWidth = 0
		}
	}

	chatView := m.chat.Render(chatWidth, m.theme)
	if inspectorWidth <= 0 {
		return chatView
	}

	inspectorView := m.inspector.Render(inspectorWidth, m.theme)
	return lipgloss.JoinHorizontal(lipgloss.Top, chatView, inspectorView)
}

func (m *App) renderSelectorBody(width int) string {
	selectorView := m.renderSelectorPanel(width)
	if !m.showInspector {
		return selectorView
	}

	inspectorWidth := defaultInspectorWidth
	if width/3 < inspectorWidth {
		inspectorWidth = width / 3
	}
	if inspectorWidth < minimumInspectorVisible {
		inspectorWidth = minimumInspectorVisible
	}

	selectorWidth := width - inspectorWidth - 1
	if selectorWidth < minimumChatPanelWidth {
		selectorWidth = minimumChatPanelWidth
		inspectorWidth = width - selectorWidth - 1
		if inspectorWidth < 0 {
			inspectorWidth = 0
		}
	}

	selectorView = m.renderSelectorPanel(selectorWidth)
	if inspectorWidth <= 0 {
		return selectorView
	}
	inspectorView := m.inspector.Render(inspectorWidth, m.theme)
	return lipgloss.JoinHorizontal(lipgloss.Top, selectorView, inspectorView)
}

func (m *App) renderSelectorPanel(width int) string {
	if m.selector == nil || len(m.selector.Items) == 0 {
		return renderPanel(width, m.theme.PanelStyle, "No selectable items.")
	}
	lines := make([]string, 0, len(m.selector.Items)+2)
	lines = append(lines, m.selector.Title)
	lines = append(lines, "Use ↑/↓ to navigate, Enter to confirm, Esc to cancel.")
	for index, item := range m.selector.Items {
		prefix := "  "
		if index == m.selector.Cursor {
			prefix = "> "
		}
		lines = append(lines, prefix+item.Label)
	}
	return renderPanel(width, m.theme.PanelStyle, strings.Join(lines, "\n"))
}

func (m *App) handleChatScrollKey(msg tea.KeyMsg) bool {
	switch msg.Type {
	case tea.KeyUp:
		m.chat.ScrollUp(1)
		return true
	case tea.KeyDown:
		m.chat.ScrollDown(1)
		return true
	case tea.KeyPgUp:
		m.chat.PageUp()
		return true
	case tea.KeyPgDown:
		m.chat.PageDown()
		return true
	case tea.KeyHome:
		m.chat.ScrollToTop()
		return true
	case tea.KeyEnd:
		m.chat.ScrollToBottom()
		return true
	default:
		return false
	}
}

func (m *App) chatViewportHeight() int {
	if m.height <= 0 {
		return 0
	}

	const nonBodyRows = 2 // status + input
	bodyHeight := m.height - nonBodyRows
	if bodyHeight < 1 {
		return 1
	}

	contentHeight := bodyHeight - m.theme.PanelStyle.GetVerticalFrameSize()
	if contentHeight < 1 {
		return 1
	}
	return contentHeight
}

func newSessionID() string {
	return time.Now().UTC().Format("20060102-150405")
}

func cloneToolSpecs(specs []llm.ToolSpec) []llm.ToolSpec {
	if len(specs) == 0 {
		return nil
	}

	cloned := make([]llm.ToolSpec, 0, len(specs))
	for _, spec := range specs {
		copySpec := spec
		copySpec.Schema = append(json.RawMessage(nil), spec.Schema...)
		cloned = append(cloned, copySpec)
	}
	return cloned
}
