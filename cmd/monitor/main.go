package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"wildfire_crew/internal/domain"
)

type embeddedServer struct {
	cmd *exec.Cmd
}

func main() {
	addr := flag.String("addr", "http://localhost:8091", "wildfire API base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", false, "start `wildfire serve` for the lifetime of the monitor")
	serverBinary := flag.String("wildfire-bin", "", "path to the wildfire binary (embedded mode)")
	configPath := flag.String("config", "", "config.toml passed to the embedded server")
	dbPath := flag.String("db", "data/monitor.db", "sqlite db path for the embedded server")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http:    newHTTPClient(),
	}

	var proc *embeddedServer
	var err error
	if *embedded {
		proc, err = startEmbeddedServer(*addr, *serverBinary, *configPath, *dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded server: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := c.waitHealth(30 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "wildfire health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	episodesTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	episodesTable.SetTitle("Episodes (Enter inspect, Ctrl+X cancel, F5 refresh, F10 quit)").SetBorder(true)

	telemetryView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	telemetryView.SetTitle("Telemetry").SetBorder(true)

	messagesView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	messagesView.SetTitle("Agent Messages").SetBorder(true)

	decisionsView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	decisionsView.SetTitle("Decisions").SetBorder(true)

	agentsView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	agentsView.SetTitle("Agents").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("Start episode: ")
	promptInput.SetBorder(true).SetTitle("level [central|leader] [seed], Enter = start")

	statusView := tview.NewTextView().
		SetDynamicColors(false).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | shortcuts: F10 quit, F5 refresh, Ctrl+L focus prompt, Ctrl+T focus episodes",
		c.baseURL,
		*embedded,
	))

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(episodesTable, 0, 3, false).
		AddItem(telemetryView, 6, 0, false)
	rightTop := tview.NewFlex().
		AddItem(agentsView, 0, 1, false).
		AddItem(messagesView, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(decisionsView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var selectedID atomic.Value
	selectedID.Store("")
	var lastEpisodes atomic.Value
	lastEpisodes.Store([]domain.Episode(nil))
	var detailsVersion uint64

	selected := func() string { return selectedID.Load().(string) }
	episodes := func() []domain.Episode { return lastEpisodes.Load().([]domain.Episode) }

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshEpisodes := func() {
		items, err := c.listEpisodes(100)
		if err != nil {
			app.QueueUpdateDraw(func() {
				episodesTable.Clear()
				episodesTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		sortEpisodes(items)
		lastEpisodes.Store(items)
		app.QueueUpdateDraw(func() {
			renderEpisodesTable(episodesTable, items, selected())
		})
	}

	refreshDetailsAsync := func(episodeID string) {
		if strings.TrimSpace(episodeID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)

		go func(id string, v uint64) {
			type telemetryResult struct {
				items []domain.TelemetryRow
				err   error
			}
			type msgResult struct {
				items []domain.Message
				err   error
			}
			type decisionResult struct {
				items []domain.DecisionLog
				err   error
			}

			telemetryCh := make(chan telemetryResult, 1)
			msgCh := make(chan msgResult, 1)
			decisionCh := make(chan decisionResult, 1)

			go func() {
				items, err := c.listTelemetry(id)
				telemetryCh <- telemetryResult{items: items, err: err}
			}()
			go func() {
				items, err := c.listMessages(id, 200)
				msgCh <- msgResult{items: items, err: err}
			}()
			go func() {
				items, err := c.listDecisions(id, 400)
				decisionCh <- decisionResult{items: items, err: err}
			}()

			telemetryRes := <-telemetryCh
			msgRes := <-msgCh
			decisionRes := <-decisionCh

			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			var ep domain.Episode
			for _, item := range episodes() {
				if item.ID == id {
					ep = item
					break
				}
			}
			app.QueueUpdateDraw(func() {
				if id != selected() {
					return
				}
				if telemetryRes.err != nil {
					telemetryView.SetText(fmt.Sprintf("error: %v", telemetryRes.err))
				} else {
					telemetryView.SetText(renderTelemetry(telemetryRes.items))
				}
				if msgRes.err != nil {
					messagesView.SetText(fmt.Sprintf("error: %v", msgRes.err))
				} else {
					messagesView.SetText(renderMessages(msgRes.items))
				}
				if decisionRes.err != nil {
					decisionsView.SetText(fmt.Sprintf("error: %v", decisionRes.err))
					agentsView.SetText("")
				} else {
					decisionsView.SetText(renderDecisions(decisionRes.items))
					agentsView.SetText(renderAgents(ep, decisionRes.items))
				}
			})
		}(episodeID, version)
	}

	submitPrompt := func(input string) {
		req, err := parsePrompt(input)
		if err != nil {
			setStatusUI(err.Error())
			return
		}
		setStatusUI("Starting episode on " + req.Level + "...")
		promptInput.SetText("")
		go func() {
			ep, err := c.startEpisode(req)
			if err != nil {
				setStatusAsync("Failed to start episode: " + err.Error())
				return
			}
			selectedID.Store(ep.ID)
			refreshEpisodes()
			refreshDetailsAsync(ep.ID)
			setStatusAsync("Episode started: " + ep.ID)
		}()
	}

	cancelSelected := func() {
		id := selected()
		if id == "" {
			setStatusUI("No episode selected")
			return
		}
		go func() {
			if err := c.cancelEpisode(id); err != nil {
				setStatusAsync("Cancel failed: " + err.Error())
				return
			}
			setStatusAsync("Cancel requested: " + id)
			refreshEpisodes()
		}()
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	episodesTable.SetSelectedFunc(func(row, _ int) {
		items := episodes()
		if row <= 0 || row > len(items) {
			return
		}
		selectedID.Store(items[row-1].ID)
		refreshDetailsAsync(items[row-1].ID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(episodesTable)
				setStatusUI("Focus -> episodes")
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlT:
			app.SetFocus(episodesTable)
			setStatusUI("Focus -> episodes")
			return nil
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go func() {
				refreshEpisodes()
				refreshDetailsAsync(selected())
			}()
			setStatusUI("Refreshing")
			return nil
		case tcell.KeyCtrlL, tcell.KeyTAB:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyCtrlX:
			cancelSelected()
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshEpisodes()
		for _, ep := range episodes() {
			if ep.Status == domain.EpisodeStatusRunning {
				selectedID.Store(ep.ID)
				break
			}
		}
		refreshDetailsAsync(selected())

		for range ticker.C {
			refreshEpisodes()
			if items := episodes(); selected() == "" && len(items) > 0 {
				selectedID.Store(items[0].ID)
			}
			refreshDetailsAsync(selected())
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func startEmbeddedServer(addr, binary, configPath, dbPath string) (*embeddedServer, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	args := []string{"serve", "--addr", "127.0.0.1:" + port, "--db", dbPath}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(binary) != "" {
		cmd = exec.Command(binary, args...)
	} else {
		if self, err := os.Executable(); err == nil {
			sibling := filepath.Join(filepath.Dir(self), "wildfire")
			if fileExists(sibling) {
				cmd = exec.Command(sibling, args...)
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/wildfire"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start wildfire process: %w", err)
	}
	return &embeddedServer{cmd: cmd}, nil
}

func (e *embeddedServer) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
