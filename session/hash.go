/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package session

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/minio/highwayhash"
	"golang.org/x/crypto/blake2b"
)

// HashAlgorithm computes the digest carried in an event record's hash
// attribute, over the immediately preceding event record's on-wire
// encoding (hash attribute included).
type HashAlgorithm interface {
	// Name is the wire name recorded in the session-start record.
	Name() string
	// Sum returns the digest of data.
	Sum(data []byte) []byte
}

type hashFuncAlgorithm struct {
	name string
	new  func() hash.Hash
}

func (h hashFuncAlgorithm) Name() string { return h.name }

func (h hashFuncAlgorithm) Sum(data []byte) []byte {
	hh := h.new()
	hh.Write(data)
	return hh.Sum(nil)
}

// highwayHashAlgorithm wraps minio/highwayhash, which (unlike the
// stdlib/x/crypto hash.Hash constructors) is keyed; HORACE uses the
// all-zero key since the hash chain is an integrity aid, not a MAC.
type highwayHashAlgorithm struct{}

var highwayZeroKey = make([]byte, 32)

func (highwayHashAlgorithm) Name() string { return "highwayhash256" }

func (highwayHashAlgorithm) Sum(data []byte) []byte {
	return highwayhash.Sum(data, highwayZeroKey)[:]
}

// SHA256Algorithm is the default hash-chain algorithm.
var SHA256Algorithm HashAlgorithm = hashFuncAlgorithm{name: "sha256", new: sha256.New}

// Blake2b256Algorithm is an alternative hash-chain algorithm.
var Blake2b256Algorithm HashAlgorithm = hashFuncAlgorithm{name: "blake2b256", new: mustBlake2b256New}

// HighwayHash256Algorithm is an alternative hash-chain algorithm,
// chosen where throughput on long-running capture hosts matters more
// than cryptographic strength.
var HighwayHash256Algorithm HashAlgorithm = highwayHashAlgorithm{}

func mustBlake2b256New() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key; nil never does.
		panic(err)
	}
	return h
}

// HashAlgorithmByName resolves the wire name recorded in a
// session-start record to a HashAlgorithm implementation.
func HashAlgorithmByName(name string) (HashAlgorithm, error) {
	switch name {
	case "sha256":
		return SHA256Algorithm, nil
	case "blake2b256":
		return Blake2b256Algorithm, nil
	case "highwayhash256":
		return HighwayHash256Algorithm, nil
	default:
		return nil, fmt.Errorf("unrecognised hash algorithm %q", name)
	}
}
