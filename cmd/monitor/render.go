package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"wildfire_crew/internal/domain"
)

type startRequest struct {
	Level string `json:"level"`
	Mode  string `json:"mode,omitempty"`
	Seed  int64  `json:"seed,omitempty"`
}

// parsePrompt reads "level [mode] [seed]".
func parsePrompt(input string) (startRequest, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return startRequest{}, fmt.Errorf("level is required")
	}
	req := startRequest{Level: fields[0]}
	for _, f := range fields[1:] {
		if seed, err := strconv.ParseInt(f, 10, 64); err == nil {
			req.Seed = seed
			continue
		}
		switch strings.ToLower(f) {
		case "central", "leader":
			req.Mode = strings.ToLower(f)
		default:
			return startRequest{}, fmt.Errorf("unexpected %q: want central, leader or a seed", f)
		}
	}
	return req, nil
}

func renderEpisodesTable(table *tview.Table, episodes []domain.Episode, selected string) {
	table.Clear()
	headers := []string{"Episode", "Level", "Mode", "Status", "Steps", "Score", "Updated"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, ep := range episodes {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(ep.ID)))
		table.SetCell(row, 1, tview.NewTableCell(trimLine(ep.Level, 36)))
		table.SetCell(row, 2, tview.NewTableCell(ep.Mode))
		table.SetCell(row, 3, tview.NewTableCell(string(ep.Status)).SetTextColor(statusColor(ep.Status)))
		table.SetCell(row, 4, tview.NewTableCell(strconv.Itoa(ep.Steps)))
		table.SetCell(row, 5, tview.NewTableCell(strconv.Itoa(ep.Score)))
		table.SetCell(row, 6, tview.NewTableCell(clock(ep.UpdatedAt)))
		if ep.ID == selected {
			table.Select(row, 0)
		}
	}
}

func statusColor(s domain.EpisodeStatus) tcell.Color {
	switch s {
	case domain.EpisodeStatusRunning:
		return tcell.ColorYellow
	case domain.EpisodeStatusDone:
		return tcell.ColorGreen
	case domain.EpisodeStatusFailed:
		return tcell.ColorRed
	default:
		return tview.Styles.PrimaryTextColor
	}
}

// renderTelemetry shows the totals of the latest row and a score sparkline.
func renderTelemetry(rows []domain.TelemetryRow) string {
	if len(rows) == 0 {
		return "No telemetry"
	}
	last := rows[len(rows)-1]
	var b strings.Builder
	fmt.Fprintf(&b, "timestep=%d score=%d\n", last.Timestep, last.Score)
	fmt.Fprintf(&b, "api_calls=%d input_tokens=%d output_tokens=%d\n", last.APICalls, last.InputTokens, last.OutputTokens)
	if len(rows) > 1 {
		prev := rows[len(rows)-2]
		fmt.Fprintf(&b, "last step: +%d calls, +%d tokens\n",
			last.APICalls-prev.APICalls,
			(last.InputTokens+last.OutputTokens)-(prev.InputTokens+prev.OutputTokens))
	}
	scores := make([]int, len(rows))
	for i, r := range rows {
		scores[i] = r.Score
	}
	b.WriteString("score " + sparkline(scores, 60) + "\n")
	return b.String()
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// sparkline draws the last width values scaled to their own range.
func sparkline(values []int, width int) string {
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	out := make([]rune, len(values))
	for i, v := range values {
		idx := 0
		if hi > lo {
			idx = (v - lo) * (len(sparkRunes) - 1) / (hi - lo)
		}
		out[i] = sparkRunes[idx]
	}
	return string(out)
}

func renderMessages(items []domain.Message) string {
	if len(items) == 0 {
		return "No messages"
	}
	var b strings.Builder
	for _, m := range items {
		fmt.Fprintf(&b, "[t=%d] %s -> %s: %s\n", m.Timestep, m.From, m.To.Tag(), trimLine(m.Content, 100))
	}
	return b.String()
}

func renderDecisions(items []domain.DecisionLog) string {
	if len(items) == 0 {
		return "No decisions"
	}
	var b strings.Builder
	for _, d := range items {
		fmt.Fprintf(&b, "[t=%d %s] %s %s\n  reason: %s\n",
			d.Timestep,
			clock(d.CreatedAt),
			d.Actor,
			d.Action,
			trimLine(d.Reason, 100),
		)
		if detail := decisionPayloadSummary(d.Payload); detail != "" {
			b.WriteString("  payload: " + trimLine(detail, 160) + "\n")
		}
	}
	return b.String()
}

type agentLine struct {
	Tag        string
	Intent     string
	IntentAt   int
	LastFail   string
	LastFailAt int
	Removed    bool
}

// renderAgents folds the decision log into one line per agent: the latest
// committed intent, the latest recovered failure and whether it was removed.
func renderAgents(ep domain.Episode, decisions []domain.DecisionLog) string {
	lines := map[string]*agentLine{}
	get := func(tag string) *agentLine {
		l, ok := lines[tag]
		if !ok {
			l = &agentLine{Tag: tag, IntentAt: -1, LastFailAt: -1}
			lines[tag] = l
		}
		return l
	}

	for _, d := range decisions {
		switch {
		case d.Actor == "consensus":
			var payload struct {
				Intents map[string]string `json:"intents"`
			}
			if err := json.Unmarshal(d.Payload, &payload); err != nil {
				continue
			}
			for key, intent := range payload.Intents {
				slot, err := strconv.Atoi(key)
				if err != nil {
					continue
				}
				l := get(domain.AgentID(slot).Tag())
				if d.Timestep >= l.IntentAt {
					l.Intent, l.IntentAt = intent, d.Timestep
				}
			}
		case d.Action == "agent_removed":
			var payload struct {
				Agent string `json:"agent"`
			}
			if err := json.Unmarshal(d.Payload, &payload); err == nil && payload.Agent != "" {
				get(payload.Agent).Removed = true
			}
		case strings.HasPrefix(d.Actor, "AGENT_") && strings.HasSuffix(d.Action, "_failed"):
			l := get(d.Actor)
			if d.Timestep >= l.LastFailAt {
				l.LastFail = strings.TrimSuffix(d.Action, "_failed") + ": " + d.Reason
				l.LastFailAt = d.Timestep
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Episode: %s  status=%s  step=%d  score=%d\n", shortID(ep.ID), ep.Status, ep.Steps, ep.Score)
	if len(lines) == 0 {
		b.WriteString("No agent activity yet\n")
		return b.String()
	}
	tags := make([]string, 0, len(lines))
	for tag := range lines {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return agentOrder(tags[i]) < agentOrder(tags[j]) })
	for _, tag := range tags {
		l := lines[tag]
		state := "active"
		if l.Removed {
			state = "destroyed"
		}
		fmt.Fprintf(&b, "%-9s %-9s t=%-4d intent=%s\n", l.Tag, state, max(l.IntentAt, 0), trimLine(l.Intent, 72))
		if l.LastFail != "" {
			fmt.Fprintf(&b, "  failed t=%d %s\n", l.LastFailAt, trimLine(l.LastFail, 110))
		}
	}
	return b.String()
}

func agentOrder(tag string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(tag, "AGENT_"))
	if err != nil {
		return 1 << 30
	}
	return n
}

func decisionPayloadSummary(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" {
		return ""
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err == nil {
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
		}
		return strings.Join(parts, ", ")
	}
	return trimmed
}

func sortEpisodes(episodes []domain.Episode) {
	sort.SliceStable(episodes, func(i, j int) bool {
		return episodes[i].UpdatedAt.After(episodes[j].UpdatedAt)
	})
}

func trimLine(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}

func clock(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("15:04:05")
}
