// Package image serializes runtime snapshots to and from bytes and files.
package image

import (
	"bytes"
	"fmt"
	"os"

	"github.com/chazu/tagvm/vm"
	"github.com/fxamacker/cbor/v2"
)

// Magic prefixes every encoded image.
var Magic = []byte("TVMI")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal encodes a snapshot as the magic bytes followed by canonical CBOR.
func Marshal(s *vm.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("image: marshal nil snapshot")
	}
	body, err := cborEncMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("image: marshal snapshot: %w", err)
	}
	return append(bytes.Clone(Magic), body...), nil
}

// Unmarshal decodes bytes produced by Marshal. Snapshots of another
// format version are rejected.
func Unmarshal(data []byte) (*vm.Snapshot, error) {
	if !bytes.HasPrefix(data, Magic) {
		return nil, fmt.Errorf("image: missing %q header", Magic)
	}
	var s vm.Snapshot
	if err := cbor.Unmarshal(data[len(Magic):], &s); err != nil {
		return nil, fmt.Errorf("image: unmarshal snapshot: %w", err)
	}
	if s.Version != vm.SnapshotVersion {
		return nil, fmt.Errorf("image: snapshot version %d, expected %d", s.Version, vm.SnapshotVersion)
	}
	return &s, nil
}

// WriteFile encodes s into path.
func WriteFile(path string, s *vm.Snapshot) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: write %s: %w", path, err)
	}
	return nil
}

// ReadFile decodes the image stored at path.
func ReadFile(path string) (*vm.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: read %s: %w", path, err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save snapshots rt and writes it to path.
func Save(path string, rt *vm.Runtime) error {
	return WriteFile(path, rt.Snapshot())
}

// Load reads the image at path and restores a runtime from it.
func Load(path string, opts vm.Options) (*vm.Runtime, error) {
	s, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	rt, err := vm.Restore(s, opts)
	if err != nil {
		return nil, fmt.Errorf("image: restore %s: %w", path, err)
	}
	return rt, nil
}
