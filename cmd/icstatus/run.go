package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
)

// runStatus polls an IC's admin API on a fixed interval and renders the
// result in a termui grid until the user quits.
func runStatus() {
	addr := flag.String("addr", "http://localhost:8090", "base URL of the IC admin API")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	flag.Parse()

	if err := termui.Init(); err != nil {
		fmt.Printf("icstatus: failed to initialize terminal: %v\n", err)
		return
	}
	defer termui.Close()

	client := newStatusClient(*addr, 3*time.Second)

	title := widgets.NewParagraph()
	title.Text = fmt.Sprintf("icstatus - %s", *addr)
	title.TextStyle.Fg = termui.ColorGreen
	title.Border = false

	clientsList := widgets.NewList()
	clientsList.Title = "Registered Clients"
	clientsList.WrapText = false

	iosetsList := widgets.NewList()
	iosetsList.Title = "I/O Sets"
	iosetsList.WrapText = false

	malleability := widgets.NewParagraph()
	malleability.Title = "Malleability Coordinator"

	grid := termui.NewGrid()
	termWidth, termHeight := termui.TerminalDimensions()
	grid.SetRect(0, 0, termWidth, termHeight)
	grid.Set(
		termui.NewRow(1.0/10, title),
		termui.NewRow(5.0/10, clientsList),
		termui.NewRow(3.0/10, iosetsList),
		termui.NewRow(1.0/10, malleability),
	)

	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), *interval)
		defer cancel()

		clientsList.Rows = nil
		if rows, err := client.clients(ctx); err == nil {
			for _, r := range rows {
				clientsList.Rows = append(clientsList.Rows, fmt.Sprintf(
					"%s  job=%d  kind=%s  nprocs=%d", r.ID, r.JobID, r.Kind, r.NProcs))
			}
			if len(clientsList.Rows) == 0 {
				clientsList.Rows = []string{"(no registered clients)"}
			}
		} else {
			clientsList.Rows = []string{fmt.Sprintf("error: %v", err)}
		}

		iosetsList.Rows = nil
		if snap, err := client.iosets(ctx); err == nil {
			iosetsList.Rows = append(iosetsList.Rows, fmt.Sprintf("any_writer_running=%v", snap.AnyWriterRunning))
			for _, s := range snap.Sets {
				iosetsList.Rows = append(iosetsList.Rows, fmt.Sprintf(
					"set_id=%d priority=%.0f in_phase=%v", s.SetID, s.Priority, s.InPhase))
			}
		} else {
			iosetsList.Rows = []string{fmt.Sprintf("error: %v", err)}
		}

		if snap, err := client.malleability(ctx); err == nil {
			text := fmt.Sprintf("state=%s", snap.State)
			if snap.DeadLetterQueue != nil {
				text += fmt.Sprintf("  dlq_total=%d", snap.DeadLetterQueue.TotalMessages)
			}
			malleability.Text = text
		} else {
			malleability.Text = fmt.Sprintf("error: %v", err)
		}

		termui.Render(grid)
	}

	refresh()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	uiEvents := termui.PollEvents()
	for {
		select {
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				return
			case "<Resize>":
				termWidth, termHeight := termui.TerminalDimensions()
				grid.SetRect(0, 0, termWidth, termHeight)
				termui.Render(grid)
			}
		case <-ticker.C:
			refresh()
		}
	}
}
