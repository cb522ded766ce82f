/*
Package main implements icreport, an offline tool that reads an IC's
bbolt registry and sqlite audit ledger and writes an Excel workbook
summarizing registered clients, known jobs, and recent allocation
history, for operators without a live admin API session.

Usage:

	icreport -registry ic_registry.db -audit ic_audit.db -out report.xlsx
*/
package main

func main() {
	runReport()
}
