package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/admire-eurohpc/ic/pkg/ic/model"
	"github.com/admire-eurohpc/ic/pkg/ic/store"
)

// runReport reads the registry and (optionally) the audit ledger and
// writes a multi-sheet workbook summarizing their contents.
func runReport() {
	registryPath := flag.String("registry", "ic_registry.db", "path to the bbolt registry database")
	auditDSN := flag.String("audit", "", "sqlite DSN of the audit ledger (optional)")
	outPath := flag.String("out", "report.xlsx", "output .xlsx path")
	flag.Parse()

	var ledger *store.AuditLedger
	if *auditDSN != "" {
		l, err := store.OpenAuditLedger(*auditDSN)
		if err != nil {
			fmt.Printf("icreport: failed to open audit ledger: %v\n", err)
			os.Exit(1)
		}
		defer l.Close()
		ledger = l
	}

	st, err := store.Open(*registryPath, ledger)
	if err != nil {
		fmt.Printf("icreport: failed to open registry %s: %v\n", *registryPath, err)
		os.Exit(1)
	}
	defer st.Close()

	h := st.Handle(0)

	clients, jobIDs, err := collectClients(h)
	if err != nil {
		fmt.Printf("icreport: failed to list clients: %v\n", err)
		os.Exit(1)
	}

	f := excelize.NewFile()
	defer f.Close()

	writeClientsSheet(f, clients)
	writeJobsSheet(f, h, jobIDs)
	if ledger != nil {
		writeAllocationsSheet(f, ledger, jobIDs)
	}

	f.DeleteSheet("Sheet1")
	if err := f.SaveAs(*outPath); err != nil {
		fmt.Printf("icreport: failed to write %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Printf("icreport: wrote %s (%d clients, %d jobs)\n", *outPath, len(clients), len(jobIDs))
}

// collectClients pages through the full registry and also returns the
// distinct job IDs seen, since the store has no direct job enumeration.
func collectClients(h store.Handle) ([]model.Client, []uint32, error) {
	var clients []model.Client
	seen := make(map[uint32]bool)
	var jobIDs []uint32

	var cursor uint64
	for {
		page, next, res := h.ListClients(store.ClientFilter{}, cursor, 200)
		if res == store.Err {
			return nil, nil, fmt.Errorf("list_clients failed")
		}
		clients = append(clients, page...)
		for _, c := range page {
			if c.JobID != 0 && !seen[c.JobID] {
				seen[c.JobID] = true
				jobIDs = append(jobIDs, c.JobID)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return clients, jobIDs, nil
}

func writeClientsSheet(f *excelize.File, clients []model.Client) {
	const sheet = "Clients"
	f.NewSheet(sheet)
	headers := []string{"ID", "Kind", "JobID", "NProcs", "Sink", "CallbackAddr"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for row, c := range clients {
		r := row + 2
		f.SetCellValue(sheet, cellAt(1, r), c.ID)
		f.SetCellValue(sheet, cellAt(2, r), string(c.Kind))
		f.SetCellValue(sheet, cellAt(3, r), c.JobID)
		f.SetCellValue(sheet, cellAt(4, r), c.NProcs)
		f.SetCellValue(sheet, cellAt(5, r), string(c.Sink))
		f.SetCellValue(sheet, cellAt(6, r), c.CallbackAddr)
	}
}

func writeJobsSheet(f *excelize.File, h store.Handle, jobIDs []uint32) {
	const sheet = "Jobs"
	f.NewSheet(sheet)
	headers := []string{"ID", "NCPUs", "NNodes"}
	for col, hdr := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, hdr)
	}
	row := 2
	for _, id := range jobIDs {
		job, res := h.GetJob(id)
		if res != store.Ok {
			continue
		}
		f.SetCellValue(sheet, cellAt(1, row), job.ID)
		f.SetCellValue(sheet, cellAt(2, row), job.NCPUs)
		f.SetCellValue(sheet, cellAt(3, row), job.NNodes)
		row++
	}
}

func writeAllocationsSheet(f *excelize.File, ledger *store.AuditLedger, jobIDs []uint32) {
	const sheet = "Allocations"
	f.NewSheet(sheet)
	headers := []string{"JobID", "NCPUs", "Hostlist", "RecordedAt"}
	for col, hdr := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, hdr)
	}
	row := 2
	for _, id := range jobIDs {
		records, err := ledger.RecentAllocations(id, 50)
		if err != nil {
			continue
		}
		for _, rec := range records {
			f.SetCellValue(sheet, cellAt(1, row), rec.JobID)
			f.SetCellValue(sheet, cellAt(2, row), rec.NCPUs)
			f.SetCellValue(sheet, cellAt(3, row), rec.Hostlist)
			f.SetCellValue(sheet, cellAt(4, row), rec.CreatedAt)
			row++
		}
	}
}

func cellAt(col, row int) string {
	cell, _ := excelize.CoordinatesToCellName(col, row)
	return cell
}
