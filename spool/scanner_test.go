/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package spool

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanEmptyDirUsesDefaultWidth(t *testing.T) {
	dir := t.TempDir()
	first, next, width, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if first != 0 || next != 0 || width != defaultWidth {
		t.Fatalf("expected (0, 0, %d), got (%d, %d, %d)", defaultWidth, first, next, width)
	}
}

func TestScanDenseSequence(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int64{3, 4, 5} {
		if err := os.WriteFile(filepath.Join(dir, Filename(n, 6)), nil, 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	first, next, width, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if first != 3 || next != 6 || width != 6 {
		t.Fatalf("expected (3, 6, 6), got (%d, %d, %d)", first, next, width)
	}
}

func TestScanRejectsGap(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []int64{0, 2} {
		if err := os.WriteFile(filepath.Join(dir, Filename(n, 6)), nil, 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if _, _, _, err := Scan(dir); err == nil {
		t.Fatal("expected error scanning a store with a gap in its numbering")
	}
}

func TestScanIgnoresDotfiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, Filename(0, 6)), nil, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".wrlock"), nil, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	first, next, width, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if first != 0 || next != 1 || width != 6 {
		t.Fatalf("expected (0, 1, 6), got (%d, %d, %d)", first, next, width)
	}
}

func TestFilenameZeroPadded(t *testing.T) {
	if got := Filename(7, 6); got != "000007" {
		t.Fatalf("expected \"000007\", got %q", got)
	}
}
