/*
Package main implements icstatus, a terminal dashboard that polls a
running IC's read-only admin HTTP API and renders client, I/O-set, and
malleability-coordinator state in a live-refreshing grid.

Usage:

	icstatus -addr http://localhost:8090

Flags:
  - addr: base URL of the admin API (default http://localhost:8090)
  - interval: poll interval (default 2s)
*/
package main

func main() {
	runStatus()
}
