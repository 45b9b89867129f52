// Package snapshot exports and restores the operator's persisted state:
// ingest cursor, pipeline markers, tasks, votes, statistics and
// registrations.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"GuardianScope/internal/storage"
	"GuardianScope/internal/types"
)

// snapshotVersion is the current snapshot format version.
const snapshotVersion = 1

// ErrChecksum is returned when a snapshot does not match its checksum.
var ErrChecksum = errors.New("snapshot checksum mismatch")

// prefixes are the key spaces a snapshot carries.
var prefixes = [][]byte{
	[]byte("m:"), // ingest cursor
	[]byte("f:"), // in-flight markers
	[]byte("t:"), // tasks
	[]byte("v:"), // votes
	[]byte("s:"), // operator statistics
	[]byte("r:"), // registrations
}

// Info describes a snapshot.
type Info struct {
	Version   uint32
	CreatedAt time.Time
	Entries   int
	Checksum  [32]byte
}

// entry is one key-value pair.
type entry struct {
	key   []byte
	value []byte
}

// Export builds a compressed snapshot of db.
func Export(db *storage.Storage) ([]byte, Info, error) {
	entries, err := collect(db)
	if err != nil {
		return nil, Info{}, fmt.Errorf("collect entries:\n%w", err)
	}

	data, info := build(entries, time.Now().UTC())

	compressed, err := compress(data)
	if err != nil {
		return nil, Info{}, err
	}

	return compressed, info, nil
}

// Import verifies a compressed snapshot and replaces the state of db with it.
func Import(db *storage.Storage, compressed []byte) (Info, error) {
	data, err := decompress(compressed)
	if err != nil {
		return Info{}, fmt.Errorf("decompress:\n%w", err)
	}

	snap, entries, info, err := parse(data)
	if err != nil {
		return Info{}, err
	}

	if snap.Version() != snapshotVersion {
		return Info{}, fmt.Errorf("unsupported snapshot version %d", snap.Version())
	}

	existing, err := collect(db)
	if err != nil {
		return Info{}, fmt.Errorf("collect existing entries:\n%w", err)
	}

	batch := db.NewBatch()
	for _, e := range existing {
		batch.Delete(e.key)
	}
	for _, e := range entries {
		batch.Set(e.key, e.value)
	}

	if err := batch.Commit(); err != nil {
		return Info{}, fmt.Errorf("write entries:\n%w", err)
	}

	return info, nil
}

// Inspect verifies a compressed snapshot without applying it.
func Inspect(compressed []byte) (Info, error) {
	data, err := decompress(compressed)
	if err != nil {
		return Info{}, fmt.Errorf("decompress:\n%w", err)
	}

	_, _, info, err := parse(data)

	return info, err
}

// collect copies every entry under the snapshot prefixes, in key order.
func collect(db *storage.Storage) ([]entry, error) {
	var entries []entry

	for _, prefix := range prefixes {
		err := db.IteratePrefix(prefix, func(key, value []byte) error {
			entries = append(entries, entry{
				key:   append([]byte(nil), key...),
				value: append([]byte(nil), value...),
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sortEntries(entries)

	return entries, nil
}

// build creates the FlatBuffers snapshot with checksum.
func build(entries []entry, createdAt time.Time) ([]byte, Info) {
	sortEntries(entries)

	checksum := computeChecksum(snapshotVersion, createdAt.UnixNano(), entries)

	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		keyOffset := builder.CreateByteVector(e.key)
		valueOffset := builder.CreateByteVector(e.value)

		types.SnapshotEntryStart(builder)
		types.SnapshotEntryAddKey(builder, keyOffset)
		types.SnapshotEntryAddValue(builder, valueOffset)
		offsets[i] = types.SnapshotEntryEnd(builder)
	}

	types.SnapshotStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesVector := builder.EndVector(len(offsets))

	checksumOffset := builder.CreateByteVector(checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, snapshotVersion)
	types.SnapshotAddCreatedAt(builder, createdAt.UnixNano())
	types.SnapshotAddEntries(builder, entriesVector)
	types.SnapshotAddChecksum(builder, checksumOffset)
	builder.Finish(types.SnapshotEnd(builder))

	info := Info{
		Version:   snapshotVersion,
		CreatedAt: createdAt,
		Entries:   len(entries),
		Checksum:  checksum,
	}

	return builder.FinishedBytes(), info
}

// parse reads and verifies a raw snapshot.
func parse(data []byte) (snap *types.Snapshot, entries []entry, info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed snapshot: %v", r)
		}
	}()

	snap = types.GetRootAsSnapshot(data, 0)

	stored := snap.ChecksumBytes()
	if len(stored) != 32 {
		return nil, nil, Info{}, fmt.Errorf("invalid checksum length: %d", len(stored))
	}

	entries = make([]entry, snap.EntriesLength())
	var e types.SnapshotEntry

	for i := range entries {
		if !snap.Entries(&e, i) {
			return nil, nil, Info{}, fmt.Errorf("read entry %d", i)
		}

		// Copy out of the flatbuffer
		entries[i] = entry{
			key:   append([]byte(nil), e.KeyBytes()...),
			value: append([]byte(nil), e.ValueBytes()...),
		}

		if !known(entries[i].key) {
			return nil, nil, Info{}, fmt.Errorf("entry %d has unknown key prefix", i)
		}
	}

	sortEntries(entries)
	computed := computeChecksum(snap.Version(), snap.CreatedAt(), entries)

	if !bytes.Equal(computed[:], stored) {
		return nil, nil, Info{}, ErrChecksum
	}

	info = Info{
		Version:   snap.Version(),
		CreatedAt: time.Unix(0, snap.CreatedAt()).UTC(),
		Entries:   len(entries),
		Checksum:  computed,
	}

	return snap, entries, info, nil
}

func known(key []byte) bool {
	for _, prefix := range prefixes {
		if bytes.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

func sortEntries(entries []entry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
}

// computeChecksum hashes version, creation time and the sorted entries.
func computeChecksum(version uint32, createdAt int64, entries []entry) [32]byte {
	hasher := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], version)
	hasher.Write(buf[:4])

	binary.BigEndian.PutUint64(buf[:], uint64(createdAt))
	hasher.Write(buf[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.key)))
		hasher.Write(buf[:4])
		hasher.Write(e.key)

		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.value)))
		hasher.Write(buf[:4])
		hasher.Write(e.value)
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
