// Package deletionvector decodes the roaring-bitmap deletion vectors
// attached to Add actions: Z85 inline payloads, UUID/path sidecar file
// layout, and the 64-bit treemap format (a 32-bit "high" key per bitmap,
// each value a standard 32-bit roaring bitmap), backed by
// github.com/RoaringBitmap/roaring/v2 for compact set membership.
package deletionvector

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dot-do/deltalake-sub003/action"
	"github.com/dot-do/deltalake-sub003/errs"
	"github.com/dot-do/deltalake-sub003/objectstore"
)

// treemapMagic is the magic number that precedes a serialized treemap.
const treemapMagic = 1681511377

// Bitmap is the decoded, queryable deletion vector: the set of row indices
// (within a file) that are logically deleted.
type Bitmap struct {
	containers map[int32]*roaring.Bitmap
}

// Contains reports whether row index pos is marked deleted.
func (b *Bitmap) Contains(pos int64) bool {
	if b == nil {
		return false
	}
	high := int32(pos >> 32)
	low := uint32(pos)
	c, ok := b.containers[high]
	if !ok {
		return false
	}
	return c.Contains(low)
}

// Cardinality returns the total number of deleted row indices.
func (b *Bitmap) Cardinality() int64 {
	if b == nil {
		return 0
	}
	var total int64
	for _, c := range b.containers {
		total += int64(c.GetCardinality())
	}
	return total
}

// DecodeTreemap parses the 64-bit roaring treemap format: a magic number
// followed by a sequence of (high key int32, serialized 32-bit roaring
// bitmap) pairs. It is truncation-tolerant: if the buffer ends mid-entry,
// the entries decoded so far are returned rather than an error.
func DecodeTreemap(buf []byte) (*Bitmap, error) {
	bm := &Bitmap{containers: map[int32]*roaring.Bitmap{}}
	if len(buf) < 4 {
		return bm, nil
	}
	magic := int32(binary.LittleEndian.Uint32(buf[:4]))
	if magic != treemapMagic {
		return nil, errs.New(errs.MalformedData, "deletion vector treemap has bad magic %d", magic)
	}
	rest := buf[4:]
	for len(rest) >= 4 {
		key := int32(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		c := roaring.New()
		n, err := c.FromBuffer(rest)
		if err != nil || n <= 0 || n > int64(len(rest)) {
			// Truncated or corrupt container: stop decoding, keep what we
			// already have.
			break
		}
		bm.containers[key] = c
		rest = rest[n:]
	}
	return bm, nil
}

// --- Z85 (inline deletion vectors are Z85-encoded) ---

const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

var z85Decode [256]int8

func init() {
	for i := range z85Decode {
		z85Decode[i] = -1
	}
	for i, c := range z85Alphabet {
		z85Decode[byte(c)] = int8(i)
	}
}

// DecodeZ85 decodes a Z85-encoded string (length must be a multiple of 5)
// into raw bytes.
func DecodeZ85(s string) ([]byte, error) {
	if len(s)%5 != 0 {
		return nil, errs.New(errs.MalformedData, "z85 input length %d is not a multiple of 5", len(s))
	}
	out := make([]byte, 0, len(s)/5*4)
	for i := 0; i < len(s); i += 5 {
		var value uint64
		for j := 0; j < 5; j++ {
			c := s[i+j]
			d := z85Decode[c]
			if d < 0 {
				return nil, errs.New(errs.MalformedData, "z85 input contains invalid character %q", c)
			}
			value = value*85 + uint64(d)
		}
		out = append(out,
			byte(value>>24), byte(value>>16), byte(value>>8), byte(value))
	}
	return out, nil
}

// --- Descriptor resolution ---

// Resolve reads and decodes the bitmap referenced by an Add action's
// DeletionVector descriptor. tableRoot is the table's base directory,
// used to locate "p"/"u" sidecar files.
func Resolve(ctx context.Context, store objectstore.Store, tableRoot string, dv *action.DeletionVectorDescriptor) (*Bitmap, error) {
	if dv == nil {
		return nil, nil
	}
	switch dv.StorageType {
	case action.DVInline:
		raw, err := DecodeZ85(dv.PathOrInlineDv)
		if err != nil {
			return nil, errs.WithOp(err, "Resolve", "", 0)
		}
		return DecodeTreemap(raw)

	case action.DVUUID, action.DVPath:
		path, err := sidecarPath(tableRoot, dv)
		if err != nil {
			return nil, err
		}
		// On-disk layout is [offset bytes ignored][4-byte size LE][4-byte
		// checksum][serialized treemap]; sizeInBytes measures only the
		// treemap payload, so the loader skips 8 bytes after offset.
		var raw []byte
		if dv.Offset != nil && dv.SizeInBytes > 0 {
			start := *dv.Offset + 8
			raw, err = store.ReadRange(ctx, path, start, start+dv.SizeInBytes)
		} else {
			var full []byte
			full, err = store.Read(ctx, path)
			if err == nil {
				if len(full) < 8 {
					return nil, errs.New(errs.MalformedData, "deletion vector sidecar %s is shorter than its header", path)
				}
				raw = full[8:]
			}
		}
		if err != nil {
			return nil, errs.WithOp(err, "Resolve", path, 0)
		}
		return DecodeTreemap(raw)

	default:
		return nil, errs.New(errs.MalformedData, "unsupported deletion vector storage type %q", dv.StorageType)
	}
}

// sidecarPath derives the physical path of a "u" (random-UUID sidecar) or
// "p" (explicit relative path) deletion vector.
func sidecarPath(tableRoot string, dv *action.DeletionVectorDescriptor) (string, error) {
	switch dv.StorageType {
	case action.DVPath:
		if dv.PathOrInlineDv == "" {
			return "", errs.New(errs.MalformedData, "path-storage deletion vector has empty pathOrInlineDv")
		}
		return joinPath(tableRoot, dv.PathOrInlineDv), nil
	case action.DVUUID:
		name := strings.TrimPrefix(dv.PathOrInlineDv, "u")
		id, err := DecodeZ85(name)
		if err != nil {
			return "", errs.Wrap(errs.MalformedData, err, "decoding uuid-storage deletion vector name")
		}
		return joinPath(tableRoot, "deletion_vector_"+formatUUIDBytes(id)+".bin"), nil
	default:
		return "", errs.New(errs.Internal, "sidecarPath called with storage type %q", dv.StorageType)
	}
}

func formatUUIDBytes(b []byte) string {
	const hex = "0123456789abcdef"
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hex[c>>4], hex[c&0x0f])
	}
	return string(out)
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}
