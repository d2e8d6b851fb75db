//go:build linux

package driver

import (
	"testing"

	"fspy-go/ring"
	"fspy-go/wire"
)

// noopSender discards chunk-fd handoffs; the consumer side under test
// here reads committed records straight out of the chunk the cursor
// just wrote, the same chunk object, so no real handoff is needed.
type noopSender struct{}

func (noopSender) SendChunk(fd int) error { return nil }

// chunkCapturingFactory wraps the real memfd-backed factory and remembers
// every chunk it hands back, so the test can feed the exact same chunk
// into a Consumer without needing a second, independent fd handoff.
type chunkCapturingFactory struct {
	inner ring.ChunkFactory
	made  []*ring.Chunk
}

func (f *chunkCapturingFactory) NewChunk(size int) (*ring.Chunk, error) {
	c, err := f.inner.NewChunk(size)
	if err != nil {
		return nil, err
	}
	f.made = append(f.made, c)
	return c, nil
}

func rec(mode wire.AccessMode, path string) wire.AccessRecord {
	return wire.AccessRecord{Mode: mode, Path: wire.NativePath{Bytes: []byte(path)}}
}

func TestSessionRecordsMergesArenaAndRingChunks(t *testing.T) {
	factory := &chunkCapturingFactory{inner: ring.NewMemfdFactory()}
	cursor := ring.NewCursor(factory, noopSender{}, nil)

	ringRecords := []wire.AccessRecord{
		rec(wire.Read, "/etc/passwd"),
		rec(wire.Write, "/tmp/out"),
	}
	for _, r := range ringRecords {
		slot, ok, err := cursor.Reserve(r)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if !ok {
			t.Fatalf("Reserve discarded %+v unexpectedly", r)
		}
		buf := make([]byte, 0, wire.EncodedSize(r))
		buf = wire.Encode(buf, r)
		slot.Write(buf)
		slot.Commit()
	}
	if len(factory.made) != 1 {
		t.Fatalf("expected exactly one chunk for %d small records, got %d", len(ringRecords), len(factory.made))
	}

	consumer := &ring.Consumer{}
	consumer.AddChunk(factory.made[0])

	s := &Session{
		consumer: consumer,
		arena: []wire.AccessRecord{
			rec(wire.Read, "/usr/bin/true"),
		},
	}

	var got []wire.AccessRecord
	for r := range s.Records() {
		got = append(got, r)
	}

	if len(got) != 3 {
		t.Fatalf("Records() yielded %d records, want 3 (1 arena + 2 ring): %+v", len(got), got)
	}
	if got[0].Path.String() != "/usr/bin/true" {
		t.Errorf("got[0] = %+v, want the arena record first", got[0])
	}
	if got[1].Path.String() != "/etc/passwd" || got[2].Path.String() != "/tmp/out" {
		t.Errorf("ring records out of order: %+v", got[1:])
	}
}

func TestSessionAddSupervisorRecordAppendsToArena(t *testing.T) {
	s := &Session{consumer: &ring.Consumer{}}
	s.AddSupervisorRecord(rec(wire.Read, "/bin/ls"))

	var got []wire.AccessRecord
	for r := range s.Records() {
		got = append(got, r)
	}
	if len(got) != 1 || got[0].Path.String() != "/bin/ls" {
		t.Fatalf("Records() = %+v, want one supervisor-sourced record", got)
	}
}
