/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/gdshaw/horace/spool"
)

// spoolReport is the JSON rendering of a spool-inspect result.
type spoolReport struct {
	Dir   string `json:"dir"`
	Width int    `json:"width"`
	Files int64  `json:"files"`
	First string `json:"first,omitempty"`
	Last  string `json:"last,omitempty"`
	Bytes int64  `json:"bytes"`
}

// runSpoolInspect reports the file-number range and width of a spool
// directory without taking the reader lock, so it is safe to run
// alongside a live writer or reader.
func runSpoolInspect(args []string) int {
	fs := flag.NewFlagSet("spool-inspect", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: horace spool-inspect [-json] <spool-directory>")
		return 1
	}
	dir := fs.Arg(0)

	first, next, width, err := spool.Scan(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "horace spool-inspect: %v\n", err)
		return 1
	}

	report := spoolReport{Dir: dir, Width: width, Files: next - first}
	if report.Files > 0 {
		report.First = spool.Filename(first, width)
		report.Last = spool.Filename(next-1, width)
		for n := first; n < next; n++ {
			path := filepath.Join(dir, spool.Filename(n, width))
			info, err := os.Stat(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "horace spool-inspect: %v\n", err)
				return 1
			}
			report.Bytes += info.Size()
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "horace spool-inspect: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("spool:     %s\n", report.Dir)
	fmt.Printf("width:     %d\n", report.Width)
	fmt.Printf("files:     %d\n", report.Files)
	if report.Files == 0 {
		fmt.Println("range:     (empty)")
		return 0
	}
	fmt.Printf("range:     %s .. %s\n", report.First, report.Last)
	fmt.Printf("bytes:     %d\n", report.Bytes)
	return 0
}
