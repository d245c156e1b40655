package ui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/cadview/pkg/app"
	"github.com/vanderheijden86/cadview/pkg/debug"
	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/layout"
	"github.com/vanderheijden86/cadview/pkg/model"
	"github.com/vanderheijden86/cadview/pkg/selection"
	"github.com/vanderheijden86/cadview/pkg/viewer"
	"github.com/vanderheijden86/cadview/pkg/voice"
	"github.com/vanderheijden86/cadview/pkg/watcher"
)

const (
	defaultWidth      = 120
	defaultHeight     = 40
	defaultSplitRatio = 0.4
)

// Options wires the model to its collaborators. Only the shell is required;
// a missing viewer, fetcher or voice panel disables that feature.
type Options struct {
	Viewer     *viewer.Viewer
	Hasse      hasse.Fetcher
	Layouter   layout.Layouter
	Voice      *voice.Panel
	Watcher    *watcher.Watcher
	SplitRatio float64
	// TreeStatePath persists tree expansion; empty disables it.
	TreeStatePath string
	// PickerDir is where the upload picker starts.
	PickerDir string
}

// stateChangedMsg means the shell or the selection changed; the model
// re-reads the shell snapshot.
type stateChangedMsg struct{}

type sceneLoadedMsg struct {
	gen   uint64
	scene *viewer.Scene
	err   error
}

type hasseLoadedMsg struct {
	view *hasse.View
	err  error
}

type uploadDoneMsg struct {
	path string
	err  error
}

type voiceStartedMsg struct{ err error }

type voiceDoneMsg struct {
	res *model.VoiceResult
	err error
}

// FileChangedMsg is sent when the watched STEP file was saved again.
type FileChangedMsg struct{}

// runtime is shared by all copies of the Model value.
type runtime struct {
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan struct{}
	unsubs  []func()
	closed  bool
	hasseVw *hasse.View
}

// Model is the terminal client.
type Model struct {
	shell *app.Shell
	opts  Options
	rt    *runtime
	theme Theme

	tree     TreeModel
	viewer   ViewerPane
	messages MessagesPane
	diagram  DiagramPane
	spinner  spinner.Model

	// Last observed shell state.
	treeRoot     *model.AssemblyNode
	token        string
	selectedID   string
	hasSelection bool
	banner       string

	sceneKey string
	sceneGen uint64

	showDiagram bool
	showPicker  bool
	showHelp    bool
	picker      UploadPicker
	uploading   bool
	voiceState  voice.State

	width  int
	height int

	statusMsg     string
	statusIsError bool
}

// NewModel creates the model and subscribes to shell and selection changes.
// Call Close when the program exits.
func NewModel(shell *app.Shell, opts Options) Model {
	if opts.SplitRatio <= 0 || opts.SplitRatio >= 1 {
		opts.SplitRatio = defaultSplitRatio
	}
	if opts.Layouter == nil {
		opts.Layouter = layout.NewLayered()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &runtime{ctx: ctx, cancel: cancel, events: make(chan struct{}, 1)}
	signal := func() {
		select {
		case rt.events <- struct{}{}:
		default:
		}
	}
	rt.unsubs = append(rt.unsubs,
		shell.Subscribe(func(app.Event) { signal() }),
		shell.Selection().Subscribe(func(selection.Change) { signal() }),
	)

	theme := DefaultTheme(lipgloss.DefaultRenderer())
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = theme.PrimaryBold

	m := Model{
		shell:    shell,
		opts:     opts,
		rt:       rt,
		theme:    theme,
		tree:     NewTreeModel(theme),
		viewer:   NewViewerPane(theme),
		messages: NewMessagesPane(theme),
		diagram:  NewDiagramPane(theme),
		spinner:  sp,
		width:    defaultWidth,
		height:   defaultHeight,
	}
	snap := shell.Snapshot()
	m.treeRoot = snap.Tree
	m.tree.Build(snap.Tree)
	if opts.TreeStatePath != "" {
		m.tree.SetStatePath(opts.TreeStatePath)
	}
	m.resize()
	m.messages.SetText(snap.MessageText())
	return m
}

// Close releases subscriptions, the voice device, the diagram view and the
// watcher. It is safe to call more than once.
func (m Model) Close() {
	rt := m.rt
	if rt.closed {
		return
	}
	rt.closed = true
	rt.cancel()
	for _, u := range rt.unsubs {
		u()
	}
	if rt.hasseVw != nil {
		rt.hasseVw.Close()
	}
	if m.opts.Voice != nil {
		m.opts.Voice.Close()
	}
	if m.opts.Watcher != nil {
		m.opts.Watcher.Stop()
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		// The first sync also starts the state pump.
		func() tea.Msg { return stateChangedMsg{} },
		m.spinner.Tick,
	}
	if m.opts.Watcher != nil {
		cmds = append(cmds, StartWatcherCmd(m.rt.ctx, m.opts.Watcher))
	}
	return tea.Batch(cmds...)
}

// ── Commands ──

func waitForStateCmd(rt *runtime) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-rt.events:
			return stateChangedMsg{}
		case <-rt.ctx.Done():
			return nil
		}
	}
}

// StartWatcherCmd starts w and reports an initial change so the watched
// file is uploaded once before waiting for saves.
func StartWatcherCmd(ctx context.Context, w *watcher.Watcher) tea.Cmd {
	return func() tea.Msg {
		if err := w.Start(ctx); err != nil && !errors.Is(err, watcher.ErrAlreadyStarted) {
			return uploadDoneMsg{path: w.Path(), err: fmt.Errorf("watching: %w", err)}
		}
		return FileChangedMsg{}
	}
}

// WatchFileCmd waits for the next settled save of the watched file.
func WatchFileCmd(ctx context.Context, w *watcher.Watcher) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-w.Changed():
			return FileChangedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

func uploadCmd(ctx context.Context, shell *app.Shell, path string) tea.Cmd {
	return func() tea.Msg {
		return uploadDoneMsg{path: path, err: shell.UploadModel(ctx, path)}
	}
}

func loadSceneCmd(ctx context.Context, v *viewer.Viewer, vm viewer.Model, gen uint64) tea.Cmd {
	return func() tea.Msg {
		scene, err := v.Load(ctx, vm)
		return sceneLoadedMsg{gen: gen, scene: scene, err: err}
	}
}

func loadHasseCmd(ctx context.Context, v *hasse.View) tea.Cmd {
	return func() tea.Msg {
		return hasseLoadedMsg{view: v, err: v.Load(ctx)}
	}
}

func startVoiceCmd(ctx context.Context, p *voice.Panel) tea.Cmd {
	return func() tea.Msg {
		return voiceStartedMsg{err: p.Start(ctx)}
	}
}

func stopVoiceCmd(ctx context.Context, p *voice.Panel) tea.Cmd {
	return func() tea.Msg {
		res, err := p.StopAndDispatch(ctx)
		return voiceDoneMsg{res: res, err: err}
	}
}

// ── Update ──

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// The picker form needs every message type, not just keys.
	if m.showPicker && !isAppMsg(msg) {
		if _, isSize := msg.(tea.WindowSizeMsg); !isSize {
			var cmd tea.Cmd
			m.picker, cmd = m.picker.Update(msg)
			switch {
			case m.picker.Done():
				m.showPicker = false
				return m, tea.Batch(cmd, m.startUpload(m.picker.Path()))
			case m.picker.Aborted():
				m.showPicker = false
				return m, nil
			}
			return m, cmd
		}
	}

	switch msg := msg.(type) {
	case stateChangedMsg:
		cmds = append(cmds, m.sync(), waitForStateCmd(m.rt))

	case sceneLoadedMsg:
		if msg.gen != m.sceneGen {
			debug.Log("ui: dropping stale scene %d (latest %d)", msg.gen, m.sceneGen)
			break
		}
		err := msg.err
		if errors.Is(err, viewer.ErrNoModel) {
			err = nil
		}
		m.viewer.SetScene(msg.scene, err)
		if err != nil {
			m.setError(fmt.Sprintf("Model load failed: %v", err))
		}

	case hasseLoadedMsg:
		if msg.view != m.rt.hasseVw || !m.showDiagram {
			break
		}
		m.diagram.SetDiagram(msg.view.Diagram())
		if m.hasSelection {
			m.diagram.Focus(m.selectedID)
		}

	case uploadDoneMsg:
		m.uploading = false
		if msg.err != nil {
			m.setError(msg.err.Error())
		} else {
			m.statusMsg = fmt.Sprintf("Uploaded %s", filepath.Base(msg.path))
			m.statusIsError = false
		}

	case voiceStartedMsg:
		if m.opts.Voice != nil {
			m.voiceState = m.opts.Voice.State()
		}
		if msg.err != nil {
			m.setError(fmt.Sprintf("Microphone unavailable: %v", msg.err))
		}

	case voiceDoneMsg:
		if m.opts.Voice != nil {
			m.voiceState = m.opts.Voice.State()
		}
		if errors.Is(msg.err, voice.ErrNotRecording) {
			break
		}
		if msg.res != nil {
			m.shell.ApplyVoiceResult(msg.res)
		}
		if msg.err != nil {
			m.setError(msg.err.Error())
		}

	case FileChangedMsg:
		if m.opts.Watcher != nil {
			cmds = append(cmds, m.startUpload(m.opts.Watcher.Path()), WatchFileCmd(m.rt.ctx, m.opts.Watcher))
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case tea.KeyMsg:
		// Clear status message on any keypress
		m.statusMsg = ""
		m.statusIsError = false

		if m.showHelp {
			m.showHelp = false
			if msg.String() != "ctrl+c" {
				return m, nil
			}
		}
		if msg.String() == "?" && !m.tree.IsSearchMode() {
			m.showHelp = true
			return m, nil
		}
		if m.showDiagram {
			return m.handleDiagramKeys(msg)
		}
		if m.tree.IsSearchMode() {
			m.handleSearchKeys(msg)
			return m, nil
		}
		return m.handleKeys(msg)
	}

	return m, tea.Batch(cmds...)
}

// isAppMsg reports messages the model handles itself even while the picker
// is open.
func isAppMsg(msg tea.Msg) bool {
	switch msg.(type) {
	case stateChangedMsg, sceneLoadedMsg, hasseLoadedMsg, uploadDoneMsg,
		voiceStartedMsg, voiceDoneMsg, FileChangedMsg, spinner.TickMsg:
		return true
	}
	return false
}

func (m *Model) setError(s string) {
	m.statusMsg = s
	m.statusIsError = true
}

// sync re-reads the shell and schedules whatever the change requires.
func (m *Model) sync() tea.Cmd {
	snap := m.shell.Snapshot()
	var cmds []tea.Cmd

	if snap.Tree != m.treeRoot {
		m.treeRoot = snap.Tree
		m.tree.Build(snap.Tree)
	}
	selChanged := snap.SelectedID != m.selectedID || snap.HasSelection != m.hasSelection
	tokenChanged := snap.Token != m.token
	m.selectedID, m.hasSelection = snap.SelectedID, snap.HasSelection
	m.token = snap.Token
	m.banner = snap.Banner
	m.messages.SetText(snap.MessageText())

	if selChanged && m.hasSelection {
		m.tree.Reveal(m.selectedID)
		m.diagram.Focus(m.selectedID)
	}
	if tokenChanged && m.showDiagram && m.rt.hasseVw != nil {
		cmds = append(cmds, loadHasseCmd(m.rt.ctx, m.rt.hasseVw))
	}
	if cmd := m.refreshScene(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

// refreshScene reloads the viewer when the projection inputs changed.
func (m *Model) refreshScene() tea.Cmd {
	if m.opts.Viewer == nil {
		return nil
	}
	key := fmt.Sprintf("%s|%t|%s", m.token, m.hasSelection, m.selectedID)
	if key == m.sceneKey {
		return nil
	}
	m.sceneKey = key
	m.sceneGen++
	vm := m.shell.ViewerModel()
	if vm.BaseModelURL == "" {
		m.viewer.SetScene(&viewer.Scene{Model: vm}, nil)
		return nil
	}
	m.viewer.SetLoading(true)
	return loadSceneCmd(m.rt.ctx, m.opts.Viewer, vm, m.sceneGen)
}

func (m *Model) startUpload(path string) tea.Cmd {
	m.uploading = true
	m.statusMsg = "Uploading " + filepath.Base(path) + "…"
	m.statusIsError = false
	return uploadCmd(m.rt.ctx, m.shell, path)
}

func (m Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.Close()
		return m, tea.Quit
	case "j", "down":
		m.tree.MoveDown()
	case "k", "up":
		m.tree.MoveUp()
	case "g", "home":
		m.tree.JumpToTop()
	case "G", "end":
		m.tree.JumpToBottom()
	case "l", "right":
		m.tree.ExpandOrMoveToChild()
	case "h", "left":
		m.tree.CollapseOrJumpToParent()
	case "o", "tab":
		m.tree.ToggleExpand()
	case "E":
		m.tree.ExpandAll()
	case "C":
		m.tree.CollapseAll()
	case "enter", " ":
		if id := m.tree.CursorID(); id != "" {
			m.shell.Select(id)
		}
	case "r":
		m.shell.Reset()
	case "/":
		m.tree.EnterSearchMode()
	case "n":
		m.tree.NextSearchMatch()
	case "N":
		m.tree.PrevSearchMatch()
	case "x":
		m.shell.AckBanner()
	case "y":
		m.copyID()
	case "u":
		m.picker = NewUploadPicker(m.opts.PickerDir, m.height-8)
		m.showPicker = true
		return m, m.picker.Init()
	case "d":
		return m, m.openDiagram()
	case "v":
		return m, m.toggleVoice()
	case "esc":
		if m.opts.Voice != nil && m.opts.Voice.State() == voice.StateRecording {
			m.opts.Voice.Cancel()
			m.voiceState = m.opts.Voice.State()
			m.statusMsg = "Recording cancelled"
		}
	}
	return m, nil
}

func (m *Model) handleSearchKeys(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEsc:
		m.tree.ExitSearchMode()
	case tea.KeyEnter:
		m.tree.ExitSearchMode()
		if id := m.tree.CursorID(); id != "" {
			m.shell.Select(id)
		}
	case tea.KeyBackspace:
		m.tree.SearchBackspace()
	case tea.KeyRunes, tea.KeySpace:
		for _, r := range msg.Runes {
			m.tree.SearchAddChar(r)
		}
	}
}

func (m Model) handleDiagramKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.Close()
		return m, tea.Quit
	case "esc", "q", "d":
		m.closeDiagram()
	case "tab", "j", "down", "l", "right":
		m.diagram.Next()
	case "shift+tab", "k", "up", "h", "left":
		m.diagram.Prev()
	case "enter", " ":
		if id := m.diagram.CursorID(); id != "" && m.rt.hasseVw != nil {
			m.rt.hasseVw.NodeClick(id)
		}
	case "r":
		if m.rt.hasseVw != nil {
			return m, loadHasseCmd(m.rt.ctx, m.rt.hasseVw)
		}
	case "y":
		m.copyID()
	}
	return m, nil
}

// openDiagram mounts a fresh diagram view; it fetches once on open.
func (m *Model) openDiagram() tea.Cmd {
	if m.opts.Hasse == nil {
		m.setError("Diagram unavailable: no backend")
		return nil
	}
	if m.rt.hasseVw != nil {
		m.rt.hasseVw.Close()
	}
	v := hasse.NewView(m.opts.Hasse,
		hasse.WithLayouter(m.opts.Layouter),
		hasse.WithNodeClick(m.shell.Select),
	)
	m.rt.hasseVw = v
	m.showDiagram = true
	m.diagram.SetDiagram(nil)
	return loadHasseCmd(m.rt.ctx, v)
}

func (m *Model) closeDiagram() {
	if m.rt.hasseVw != nil {
		m.rt.hasseVw.Close()
		m.rt.hasseVw = nil
	}
	m.showDiagram = false
}

func (m *Model) toggleVoice() tea.Cmd {
	p := m.opts.Voice
	if p == nil {
		m.setError("Voice commands unavailable")
		return nil
	}
	switch p.State() {
	case voice.StateIdle:
		if !p.CanRecord() {
			return nil
		}
		m.voiceState = voice.StateRecording
		m.statusMsg = "Recording… press v to send, esc to cancel"
		return startVoiceCmd(m.rt.ctx, p)
	case voice.StateRecording:
		m.voiceState = voice.StateDispatching
		return stopVoiceCmd(m.rt.ctx, p)
	default:
		return nil
	}
}

func (m *Model) copyID() {
	id := m.selectedID
	if !m.hasSelection {
		id = m.tree.CursorID()
	}
	if m.showDiagram {
		id = m.diagram.CursorID()
	}
	if id == "" {
		return
	}
	if err := clipboard.WriteAll(id); err != nil {
		m.setError(fmt.Sprintf("Clipboard error: %v", err))
		return
	}
	m.statusMsg = fmt.Sprintf("Copied %s to clipboard", id)
}

// ── Layout ──

func (m *Model) bodyHeight() int {
	h := m.height - 2 // header, footer
	if m.banner != "" {
		h--
	}
	return max(h, 8)
}

func (m *Model) leftWidth() int {
	return max(int(float64(m.width)*m.opts.SplitRatio), 20)
}

func (m *Model) messagesHeight() int {
	return min(max(m.bodyHeight()/3, 5), 10)
}

func (m *Model) resize() {
	left := m.leftWidth()
	right := max(m.width-left, 12)
	body := m.bodyHeight()
	msgH := m.messagesHeight()

	// Panel borders take two rows and columns; titles take one row.
	m.tree.SetSize(left-2, body-msgH-3)
	m.messages.SetSize(left-2, msgH-2)
	m.viewer.SetSize(right-2, body-3)
	m.diagram.SetSize(m.width-6, body-2)
}

// ── View ──

func (m Model) View() string {
	header := m.renderHeader()
	footer := m.renderFooter()

	var body string
	switch {
	case m.showHelp:
		body = RenderContextHelp(m.helpContext(), m.theme, m.width, m.bodyHeight())
	case m.showPicker:
		body = ModalStyle.Width(m.width - 4).Render(m.picker.View())
	case m.showDiagram:
		st, err := hasse.StateIdle, error(nil)
		if m.rt.hasseVw != nil {
			st, err = m.rt.hasseVw.State(), m.rt.hasseVw.Err()
		}
		body = ModalStyle.Render(m.diagram.View(st, err, m.selectedID, m.hasSelection))
	default:
		body = m.renderPanes()
	}

	parts := []string{header}
	if m.banner != "" {
		parts = append(parts, m.theme.Banner.Width(m.width).Render("✖ "+m.banner+"  (x to dismiss)"))
	}
	parts = append(parts, body, footer)

	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		MaxHeight(m.height).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader() string {
	title := m.theme.Header.Render("cadview")
	var info []string
	if m.token != "" {
		info = append(info, "model "+m.token)
	} else {
		info = append(info, "sample tree")
	}
	if m.hasSelection {
		info = append(info, m.theme.EmphasisText.Render("● "+m.selectedID))
	}
	switch m.voiceState {
	case voice.StateRecording:
		info = append(info, m.theme.ErrorText.Render("● REC"))
	case voice.StateDispatching:
		info = append(info, m.spinner.View()+" sending voice command")
	}
	if m.uploading {
		info = append(info, m.spinner.View()+" uploading")
	}
	return title + " " + m.theme.MutedText.Render(strings.Join(info, "  "))
}

func (m Model) renderPanes() string {
	left := m.leftWidth()
	right := max(m.width-left, 12)
	body := m.bodyHeight()
	msgH := m.messagesHeight()

	treeBox := FocusedPanelStyle.
		Width(left - 2).
		Height(body - msgH - 2).
		Render(m.theme.PrimaryBold.Render("Assembly") + "\n" + m.tree.View(m.selectedID, m.hasSelection))
	msgBox := PanelStyle.
		Width(left - 2).
		Height(msgH - 2).
		Render(m.messages.View())
	viewBox := PanelStyle.
		Width(right - 2).
		Height(body - 2).
		Render(m.theme.PrimaryBold.Render("Model") + "\n" + m.viewer.View())

	return lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.JoinVertical(lipgloss.Left, treeBox, msgBox),
		viewBox,
	)
}

func (m Model) renderFooter() string {
	if m.statusMsg != "" {
		style := m.theme.SecondaryText
		if m.statusIsError {
			style = m.theme.ErrorText
		}
		return style.Render(m.statusMsg)
	}
	var help string
	switch {
	case m.showHelp:
		help = "any key to close"
	case m.showPicker:
		help = "↑/↓ move · enter choose · esc cancel"
	case m.showDiagram:
		help = "tab next · enter select · r reload · esc close · ? help"
	case m.tree.IsSearchMode():
		help = "type to search · enter select · esc done"
	default:
		help = "j/k move · enter select · r reset · / search · u upload · v voice · d diagram · y copy · ? help · q quit"
	}
	return m.theme.MutedText.Render(help)
}

// helpContext is the context the help overlay describes: the one beneath it.
func (m Model) helpContext() Context {
	m.showHelp = false
	return m.CurrentContext()
}

// Shell returns the shell the model drives.
func (m Model) Shell() *app.Shell {
	return m.shell
}
