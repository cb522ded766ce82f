/*
Package main runs the Intelligent Controller server: the RPC dispatcher
malleable-job clients talk to (C1-C5), plus an optional read-only admin
HTTP API.

Configuration is loaded from ic.config.json in the working directory (or
the path named by the IC_CONFIG_FILE environment variable); a missing
file is not an error, since pkg/common.DefaultConfig() alone is a valid
local-development configuration.

Environment variables:
  - IC_CONFIG_FILE: path to the JSON config file (default ic.config.json)
  - ADMIRE_DIR: directory the icc.addr bootstrap file is written to,
    taking priority over $HOME when Server.AddressFileOverride is unset
*/
package main

func main() {
	runServer()
}
