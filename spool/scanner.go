/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Package spool implements the durable, capacity-bounded, append-only
// queue of framed records shared by one writer process and one reader
// process via advisory lockfiles.
package spool

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/gdshaw/horace/herrors"
)

// defaultWidth is the zero-padded filename width used when a store is
// first created.
const defaultWidth = 6

// Scan enumerates the non-dotfile entries of dir, each of which must
// parse as a non-negative decimal integer with consistent zero
// padding, and reports the lowest file number present (first), one
// past the highest (next), and the filename width established by the
// first file seen (or defaultWidth if the store is empty).
func Scan(dir string) (first, next int64, width int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, 0, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if len(name) == 0 || name[0] == '.' {
			continue
		}
		if e.IsDir() {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return 0, 0, defaultWidth, nil
	}
	sort.Strings(names)

	width = len(names[0])
	var numbers []int64
	for _, name := range names {
		if len(name) != width {
			return 0, 0, 0, herrors.New(herrors.Exhausted,
				fmt.Errorf("spool %s: inconsistent filename width: %q vs width %d", dir, name, width))
		}
		n, err := strconv.ParseInt(name, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, 0, herrors.New(herrors.Exhausted,
				fmt.Errorf("spool %s: invalid spoolfile name %q", dir, name))
		}
		if strconv.FormatInt(n, 10) != name && fmt.Sprintf("%0*d", width, n) != name {
			return 0, 0, 0, herrors.New(herrors.Exhausted,
				fmt.Errorf("spool %s: malformed zero-padding in %q", dir, name))
		}
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	first = numbers[0]
	prev := first
	for _, n := range numbers[1:] {
		if n != prev+1 {
			return 0, 0, 0, herrors.New(herrors.Exhausted,
				fmt.Errorf("spool %s: file numbers are not dense: gap after %d", dir, prev))
		}
		prev = n
	}
	next = numbers[len(numbers)-1] + 1
	return first, next, width, nil
}

// Filename renders file number n at the given zero-padded width.
func Filename(n int64, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}
