/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Command horace runs the capture and forward processes of the HORACE
// pipeline: capture reads events from a source and spools or forwards
// them, forward relays sessions between two endpoints, genkey mints an
// Ed25519 signing keypair, and spool-inspect reports on a spool
// directory's contents without consuming it.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}
	switch args[0] {
	case "-h", "--help", "help":
		usage()
		return 0
	case "-V", "--version":
		fmt.Println("horace", version)
		return 0
	case "capture":
		return runCapture(args[1:])
	case "forward":
		return runForward(args[1:])
	case "genkey":
		return runGenkey(args[1:])
	case "spool-inspect":
		return runSpoolInspect(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "horace: unrecognised command %q\n", args[0])
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: horace <command> [options]

commands:
  capture        capture events from a source endpoint into a destination
  forward        relay sessions from a listener endpoint to a destination
  genkey         emit a fresh Ed25519 signing keypair on stdout
  spool-inspect  report on a spool directory's contents

options:
  -h, --help     show this help
  -V, --version  show version`)
}
