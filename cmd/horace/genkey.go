/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/google/renameio"
)

func runGenkey(args []string) int {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	out := fs.String("out", "", "write the keypair to this path instead of stdout (atomic replace)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, "horace genkey:", err)
		return 1
	}
	line := fmt.Sprintf("ed25519:%s:%s\n", hex.EncodeToString(pub), hex.EncodeToString(priv))

	if *out == "" {
		fmt.Print(line)
		return 0
	}
	// A keypair is consumed whole by -sign-key; a partial write from a
	// crash or concurrent read would be worse than a missing file, so
	// replace the destination atomically rather than truncate it in
	// place.
	if err := renameio.WriteFile(*out, []byte(line), 0600); err != nil {
		fmt.Fprintln(os.Stderr, "horace genkey:", err)
		return 1
	}
	return 0
}
