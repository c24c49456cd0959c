package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"
)

func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name: "dashboard",
		Usage: "live terminal view of a running server's telemetry",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "http://localhost:9090"},
			&cli.StringFlag{Name: "group", Value: "default"},
			&cli.DurationFlag{Name: "interval", Value: time.Second},
		},
		Action: func(c *cli.Context) error {
			return runDashboard(c.String("addr"), c.String("group"), c.Duration("interval"))
		},
	}
}

func runDashboard(addr, group string, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("dashboard: init terminal: %w", err)
	}
	defer ui.Close()

	health := widgets.NewParagraph()
	health.Title = "connection"
	health.SetRect(0, 0, 50, 5)

	buffer := widgets.NewParagraph()
	buffer.Title = "buffer"
	buffer.SetRect(0, 5, 50, 10)

	endpoints := widgets.NewList()
	endpoints.Title = "endpoints"
	endpoints.SetRect(0, 10, 50, 20)

	render := func() {
		health.Text = fetchText(addr + "/healthz?group=" + group)
		buffer.Text = fetchText(addr + "/stats/buffer")
		endpoints.Rows = fetchList(addr + "/endpoints/" + group)
		ui.Render(health, buffer, endpoints)
	}
	render()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	events := ui.PollEvents()
	for {
		select {
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			}
		case <-ticker.C:
			render()
		}
	}
}

func fetchText(url string) string {
	resp, err := http.Get(url)
	if err != nil {
		return err.Error()
	}
	defer resp.Body.Close()

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return err.Error()
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	return string(pretty)
}

func fetchList(url string) []string {
	resp, err := http.Get(url)
	if err != nil {
		return []string{err.Error()}
	}
	defer resp.Body.Close()

	var eps []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&eps); err != nil {
		return []string{err.Error()}
	}

	rows := make([]string, 0, len(eps))
	for _, ep := range eps {
		rows = append(rows, fmt.Sprintf("%v  %v", ep["ID"], ep["Status"]))
	}
	return rows
}
