// Package checkpoint stores named network weights and attaches them to
// constructed graphs for inference.
//
// A checkpoint file is the 8-byte magic "JNTCKPT1", a little-endian uint32
// header length, a JSON header listing every variable's name, shape and
// element offset together with the hex BLAKE2b-256 digest of the payload,
// then the payload: all variables as little-endian float32 in header order.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"

	"github.com/chaz8081/jointist-go/internal/nn"
	"github.com/chaz8081/jointist-go/internal/tensor"
)

const (
	magic         = "JNTCKPT1"
	formatVersion = 1
	maxHeaderLen  = 16 << 20
)

// ErrCorrupt is returned for files that are not well-formed checkpoints.
var ErrCorrupt = errors.New("checkpoint: corrupt file")

type header struct {
	Version   int        `json:"version"`
	Variables []variable `json:"variables"`
	Digest    string     `json:"digest"`
}

type variable struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // in float32 elements
}

// Weights is the decoded content of a checkpoint file.
type Weights struct {
	Digest  string
	Names   []string // file order
	Tensors map[string]*tensor.Tensor
}

// Save writes every parameter of net to path. The file is written to a
// temporary name in the same directory and renamed into place.
func Save(path string, net nn.Parameterized) error {
	var h header
	h.Version = formatVersion
	var payload bytes.Buffer
	var off int64
	seen := make(map[string]bool)
	for _, p := range net.Params() {
		if seen[p.Name] {
			return fmt.Errorf("checkpoint: duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		h.Variables = append(h.Variables, variable{Name: p.Name, Shape: p.Value.Shape(), Offset: off})
		if err := binary.Write(&payload, binary.LittleEndian, p.Value.Data()); err != nil {
			return fmt.Errorf("checkpoint: encoding %q: %w", p.Name, err)
		}
		off += int64(p.Value.Len())
	}
	sum := blake2b.Sum256(payload.Bytes())
	h.Digest = hex.EncodeToString(sum[:])

	hdr, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("checkpoint: encoding header: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hdr)))
	for _, chunk := range [][]byte{[]byte(magic), lenBuf[:], hdr, payload.Bytes()} {
		if _, err := tmp.Write(chunk); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("checkpoint: writing %s: %w", path, err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("checkpoint: renaming temp file: %w", err)
	}
	return nil
}

// Read decodes and verifies the checkpoint at path.
func Read(path string) (*Weights, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	defer func() { _ = f.Close() }()
	w, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %s: %w", path, err)
	}
	return w, nil
}

func decode(r io.Reader) (*Weights, error) {
	var prefix [len(magic) + 4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if string(prefix[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	n := binary.LittleEndian.Uint32(prefix[len(magic):])
	if n == 0 || n > maxHeaderLen {
		return nil, fmt.Errorf("%w: header length %d", ErrCorrupt, n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", h.Version)
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	sum := blake2b.Sum256(payload)
	if hex.EncodeToString(sum[:]) != h.Digest {
		return nil, fmt.Errorf("%w: payload digest mismatch", ErrCorrupt)
	}
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("%w: payload length %d", ErrCorrupt, len(payload))
	}
	values := make([]float32, len(payload)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
	}

	w := &Weights{Digest: h.Digest, Tensors: make(map[string]*tensor.Tensor, len(h.Variables))}
	for _, v := range h.Variables {
		if _, dup := w.Tensors[v.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate variable %q", ErrCorrupt, v.Name)
		}
		size := int64(1)
		for _, d := range v.Shape {
			if d < 0 {
				return nil, fmt.Errorf("%w: variable %q has shape %v", ErrCorrupt, v.Name, v.Shape)
			}
			size *= int64(d)
		}
		if v.Offset < 0 || v.Offset+size > int64(len(values)) {
			return nil, fmt.Errorf("%w: variable %q out of bounds", ErrCorrupt, v.Name)
		}
		t, err := tensor.FromData(append([]float32(nil), values[v.Offset:v.Offset+size]...), v.Shape...)
		if err != nil {
			return nil, fmt.Errorf("%w: variable %q: %v", ErrCorrupt, v.Name, err)
		}
		w.Names = append(w.Names, v.Name)
		w.Tensors[v.Name] = t
	}
	return w, nil
}
