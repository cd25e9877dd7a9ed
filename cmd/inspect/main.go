// Command inspect is a terminal dashboard that polls a running transcription
// server's inspection endpoints (/health, /sessions, /sessions/metrics) and
// renders a live table of sessions alongside aggregate counters.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = 2 * time.Second

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	tableStyle  = table.DefaultStyles()
)

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
}

type sessionRow struct {
	SessionID       string  `json:"session_id"`
	State           string  `json:"state"`
	CreatedAt       string  `json:"created_at"`
	LastActivityAt  string  `json:"last_activity_at"`
	AudioDurationMs float64 `json:"audio_duration_ms"`
}

type aggregateMetrics struct {
	ActiveSessions       int     `json:"active_sessions"`
	TotalSessions        int     `json:"total_sessions"`
	TotalAudioBytes      int64   `json:"total_audio_bytes"`
	TotalAudioDurationMs float64 `json:"total_audio_duration_ms"`
	TotalChunks          int64   `json:"total_chunks"`
	TotalTranscripts     int64   `json:"total_transcripts"`
	TotalPartials        int64   `json:"total_partials"`
	TotalFinals          int64   `json:"total_finals"`
	TotalErrors          int64   `json:"total_errors"`
}

type tickMsg time.Time

type fetchResultMsg struct {
	health    *healthResponse
	sessions  []sessionRow
	aggregate *aggregateMetrics
	err       error
}

type model struct {
	baseURL   string
	client    *http.Client
	table     table.Model
	health    *healthResponse
	aggregate *aggregateMetrics
	lastErr   error
}

func newModel(baseURL string) model {
	columns := []table.Column{
		{Title: "Session ID", Width: 36},
		{Title: "State", Width: 10},
		{Title: "Created", Width: 20},
		{Title: "Last Activity", Width: 20},
		{Title: "Audio (ms)", Width: 12},
	}
	t := table.New(table.WithColumns(columns), table.WithHeight(15))
	t.SetStyles(tableStyle)

	return model{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 3 * time.Second},
		table:   t,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetch() tea.Cmd {
	return func() tea.Msg {
		health, err := fetchJSON[healthResponse](m.client, m.baseURL+"/health")
		if err != nil {
			return fetchResultMsg{err: err}
		}
		sessions, err := fetchJSON[[]sessionRow](m.client, m.baseURL+"/sessions")
		if err != nil {
			return fetchResultMsg{err: err}
		}
		aggregate, err := fetchJSON[aggregateMetrics](m.client, m.baseURL+"/sessions/metrics")
		if err != nil {
			return fetchResultMsg{err: err}
		}
		return fetchResultMsg{health: health, sessions: *sessions, aggregate: aggregate}
	}
}

func fetchJSON[T any](client *http.Client, url string) (*T, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return &out, nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())
	case fetchResultMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.health = msg.health
		m.aggregate = msg.aggregate

		rows := make([]table.Row, 0, len(msg.sessions))
		for _, s := range msg.sessions {
			rows = append(rows, table.Row{
				s.SessionID, s.State, s.CreatedAt, s.LastActivityAt,
				fmt.Sprintf("%.0f", s.AudioDurationMs),
			})
		}
		m.table.SetRows(rows)
		return m, nil
	}
	return m, nil
}

func (m model) View() string {
	if m.lastErr != nil {
		return errorStyle.Render(fmt.Sprintf("error polling %s: %v\n", m.baseURL, m.lastErr))
	}

	var health, agg string
	if m.health != nil {
		health = fmt.Sprintf("status=%s version=%s active=%d", m.health.Status, m.health.Version, m.health.ActiveSessions)
	}
	if m.aggregate != nil {
		agg = fmt.Sprintf("total_sessions=%d total_chunks=%d total_transcripts=%d partials=%d finals=%d errors=%d",
			m.aggregate.TotalSessions, m.aggregate.TotalChunks, m.aggregate.TotalTranscripts,
			m.aggregate.TotalPartials, m.aggregate.TotalFinals, m.aggregate.TotalErrors)
	}

	return fmt.Sprintf(
		"%s\n%s\n%s\n\n%s\n\npress q to quit\n",
		headerStyle.Render("transcription server inspector"),
		health,
		agg,
		m.table.View(),
	)
}

func main() {
	addr := flag.String("addr", "http://localhost:8001", "base URL of the transcription server")
	flag.Parse()

	p := tea.NewProgram(newModel(*addr))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}
