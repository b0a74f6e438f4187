package deletionvector

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/dot-do/deltalake-sub003/action"
	"github.com/dot-do/deltalake-sub003/objectstore/mem"
)

func buildTreemap(t *testing.T, entries map[int32][]uint32) []byte {
	t.Helper()
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(treemapMagic))
	for key, values := range entries {
		rb := roaring.New()
		for _, v := range values {
			rb.Add(v)
		}
		kb := make([]byte, 4)
		binary.LittleEndian.PutUint32(kb, uint32(key))
		buf = append(buf, kb...)
		bs, err := rb.ToBytes()
		if err != nil {
			t.Fatalf("serializing roaring bitmap: %v", err)
		}
		buf = append(buf, bs...)
	}
	return buf
}

func TestDecodeTreemapRoundTrip(t *testing.T) {
	buf := buildTreemap(t, map[int32][]uint32{0: {1, 2, 5}})
	bm, err := DecodeTreemap(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bm.Contains(1) || !bm.Contains(2) || !bm.Contains(5) {
		t.Fatalf("expected all seeded rows to be marked deleted")
	}
	if bm.Contains(3) {
		t.Fatalf("did not expect row 3 to be deleted")
	}
	if bm.Cardinality() != 3 {
		t.Fatalf("expected cardinality 3, got %d", bm.Cardinality())
	}
}

func TestDecodeTreemapRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 0)
	if _, err := DecodeTreemap(buf); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestDecodeTreemapToleratesTruncation(t *testing.T) {
	full := buildTreemap(t, map[int32][]uint32{0: {1, 2, 3}})
	truncated := full[:len(full)-2]
	bm, err := DecodeTreemap(truncated)
	if err != nil {
		t.Fatalf("expected truncation to be tolerated, got error: %v", err)
	}
	if bm.Cardinality() != 0 {
		t.Fatalf("expected empty result on truncated first container, got %d", bm.Cardinality())
	}
}

func TestZ85RoundTrip(t *testing.T) {
	raw := []byte{0x86, 0x4F, 0xD2, 0x6F, 0xB5, 0x59, 0xF7, 0x5B}
	// Encode manually via the same alphabet to validate decode independently:
	// easier to validate by re-encoding with a hand-rolled encoder mirroring
	// DecodeZ85's table.
	encoded := encodeZ85ForTest(raw)
	back, err := DecodeZ85(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(back) != len(raw) {
		t.Fatalf("expected %d bytes, got %d", len(raw), len(back))
	}
	for i := range raw {
		if back[i] != raw[i] {
			t.Fatalf("byte %d mismatch: got %x want %x", i, back[i], raw[i])
		}
	}
}

func encodeZ85ForTest(data []byte) string {
	out := make([]byte, 0, len(data)/4*5)
	for i := 0; i < len(data); i += 4 {
		value := uint64(data[i])<<24 | uint64(data[i+1])<<16 | uint64(data[i+2])<<8 | uint64(data[i+3])
		var chunk [5]byte
		for j := 4; j >= 0; j-- {
			chunk[j] = z85Alphabet[value%85]
			value /= 85
		}
		out = append(out, chunk[:]...)
	}
	return string(out)
}

func TestZ85RejectsBadLength(t *testing.T) {
	if _, err := DecodeZ85("abc"); err == nil {
		t.Fatalf("expected error for length not a multiple of 5")
	}
}

func TestResolveInline(t *testing.T) {
	raw := buildTreemap(t, map[int32][]uint32{0: {7}})
	encoded := encodeZ85ForTest(raw)
	dv := &action.DeletionVectorDescriptor{StorageType: action.DVInline, PathOrInlineDv: encoded}
	bm, err := Resolve(context.Background(), mem.New(), "t", dv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bm.Contains(7) {
		t.Fatalf("expected row 7 to be deleted")
	}
}

// sidecarFile builds the real on-disk byte layout of a deletion vector
// sidecar file: [4-byte size LE][4-byte checksum][serialized treemap],
// optionally preceded by some unrelated leading bytes to stand in for
// another descriptor's payload sharing the same file at a nonzero offset.
func sidecarFile(t *testing.T, leading int, treemap []byte) []byte {
	t.Helper()
	buf := make([]byte, leading)
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(treemap)))
	binary.LittleEndian.PutUint32(header[4:8], 0) // checksum is not validated by Resolve
	buf = append(buf, header...)
	buf = append(buf, treemap...)
	return buf
}

func TestResolvePathStorage(t *testing.T) {
	treemap := buildTreemap(t, map[int32][]uint32{0: {9}})
	file := sidecarFile(t, 0, treemap)
	store := mem.New()
	if err := store.Write(context.Background(), "t/deletion_vectors/dv1.bin", file); err != nil {
		t.Fatalf("seeding sidecar: %v", err)
	}
	offset := int64(0)
	dv := &action.DeletionVectorDescriptor{
		StorageType:    action.DVPath,
		PathOrInlineDv: "deletion_vectors/dv1.bin",
		Offset:         &offset,
		SizeInBytes:    int64(len(treemap)),
	}
	bm, err := Resolve(context.Background(), store, "t", dv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bm.Contains(9) {
		t.Fatalf("expected row 9 to be deleted")
	}
}

func TestResolvePathStorageAtNonzeroOffsetSkipsHeader(t *testing.T) {
	treemap := buildTreemap(t, map[int32][]uint32{0: {3, 4}})
	leading := 16
	file := sidecarFile(t, leading, treemap)
	store := mem.New()
	if err := store.Write(context.Background(), "t/deletion_vectors/dv2.bin", file); err != nil {
		t.Fatalf("seeding sidecar: %v", err)
	}
	offset := int64(leading)
	dv := &action.DeletionVectorDescriptor{
		StorageType:    action.DVPath,
		PathOrInlineDv: "deletion_vectors/dv2.bin",
		Offset:         &offset,
		SizeInBytes:    int64(len(treemap)),
	}
	bm, err := Resolve(context.Background(), store, "t", dv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bm.Contains(3) || !bm.Contains(4) {
		t.Fatalf("expected rows 3 and 4 to be deleted")
	}
}

func TestResolvePathStorageWithoutOffsetSkipsHeaderFromStart(t *testing.T) {
	treemap := buildTreemap(t, map[int32][]uint32{0: {9}})
	file := sidecarFile(t, 0, treemap)
	store := mem.New()
	if err := store.Write(context.Background(), "t/deletion_vectors/dv3.bin", file); err != nil {
		t.Fatalf("seeding sidecar: %v", err)
	}
	dv := &action.DeletionVectorDescriptor{
		StorageType:    action.DVPath,
		PathOrInlineDv: "deletion_vectors/dv3.bin",
	}
	bm, err := Resolve(context.Background(), store, "t", dv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bm.Contains(9) {
		t.Fatalf("expected row 9 to be deleted")
	}
}
