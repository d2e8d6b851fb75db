package ring

import (
	"testing"

	"fspy-go/wire"
)

// fakeFactory creates plain-heap-backed chunks, entirely avoiding
// memfd/shm so the reserve/commit/scan logic can be tested without
// touching the kernel.
type fakeFactory struct {
	made []*Chunk
}

func (f *fakeFactory) NewChunk(size int) (*Chunk, error) {
	c := &Chunk{data: make([]byte, size), fd: -1}
	f.made = append(f.made, c)
	return c, nil
}

// fakeSender records every fd it was asked to hand off, without doing
// any real SCM_RIGHTS work.
type fakeSender struct {
	sent []int
}

func (f *fakeSender) SendChunk(fd int) error {
	f.sent = append(f.sent, fd)
	return nil
}

func rec(mode wire.AccessMode, path string) wire.AccessRecord {
	return wire.AccessRecord{Mode: mode, Path: wire.NativePath{Bytes: []byte(path)}}
}

func TestReserveWriteCommitScan(t *testing.T) {
	factory := &fakeFactory{}
	sender := &fakeSender{}
	cursor := NewCursor(factory, sender, nil)

	records := []wire.AccessRecord{
		rec(wire.Read, "/tmp/a"),
		rec(wire.Write, "/tmp/b"),
		rec(wire.ReadDir, "/tmp/c"),
	}

	for _, r := range records {
		slot, ok, err := cursor.Reserve(r)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if !ok {
			t.Fatalf("Reserve unexpectedly discarded %+v", r)
		}
		buf := make([]byte, 0, wire.EncodedSize(r))
		buf = wire.Encode(buf, r)
		slot.Write(buf)
		slot.Commit()
	}

	if len(factory.made) != 1 {
		t.Fatalf("expected exactly one chunk for %d small records, got %d", len(records), len(factory.made))
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one chunk handoff, got %d", len(sender.sent))
	}

	var consumer Consumer
	consumer.AddChunk(factory.made[0])

	var got []wire.AccessRecord
	consumer.Scan(func(r wire.AccessRecord) { got = append(got, r) })

	if len(got) != len(records) {
		t.Fatalf("scanned %d records, want %d", len(got), len(records))
	}
	for i, r := range got {
		if r.Mode != records[i].Mode || r.Path.String() != records[i].Path.String() {
			t.Errorf("record %d: got %+v, want %+v", i, r, records[i])
		}
	}

	if cursor.Stats().Committed() != uint64(len(records)) {
		t.Errorf("Committed() = %d, want %d", cursor.Stats().Committed(), len(records))
	}
}

func TestReserveDiscardsSelfObservationPaths(t *testing.T) {
	factory := &fakeFactory{}
	sender := &fakeSender{}
	cursor := NewCursor(factory, sender, nil)

	for _, path := range []string{"/dev/null", "/proc/self/fd/3", "/sys/kernel/x"} {
		_, ok, err := cursor.Reserve(rec(wire.Read, path))
		if err != nil {
			t.Fatalf("Reserve(%q): %v", path, err)
		}
		if ok {
			t.Errorf("Reserve(%q) should have been discarded", path)
		}
	}
	if len(factory.made) != 0 {
		t.Errorf("discarded reserves should never allocate a chunk, got %d", len(factory.made))
	}
}

func TestReserveOversizedRecordFails(t *testing.T) {
	factory := &fakeFactory{}
	sender := &fakeSender{}
	cursor := NewCursor(factory, sender, nil)

	huge := rec(wire.Read, string(make([]byte, ChunkSize+1)))
	_, _, err := cursor.Reserve(huge)
	if err == nil {
		t.Fatal("expected ErrRecordTooLarge")
	}
	if cursor.Stats().Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", cursor.Stats().Dropped())
	}
}

func TestReserveRotatesChunkWhenFull(t *testing.T) {
	factory := &fakeFactory{}
	sender := &fakeSender{}
	cursor := NewCursor(factory, sender, nil)

	// Each record is small but ChunkSize is fixed; reserve enough
	// records that at least one rotation is forced by shrinking the
	// effective chunk via a factory that returns small chunks.
	smallFactory := &smallChunkFactory{size: 64}
	cursor = NewCursor(smallFactory, sender, nil)

	longPath := "/tmp/" + string(make([]byte, 40))
	for i := 0; i < 5; i++ {
		slot, ok, err := cursor.Reserve(rec(wire.Read, longPath))
		if err != nil {
			t.Fatalf("Reserve #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("Reserve #%d unexpectedly discarded", i)
		}
		buf := make([]byte, wire.EncodedSize(rec(wire.Read, longPath)))
		slot.Write(buf)
		slot.Commit()
	}

	if len(smallFactory.made) < 2 {
		t.Errorf("expected multiple chunk rotations, got %d chunks", len(smallFactory.made))
	}
	if len(sender.sent) != len(smallFactory.made) {
		t.Errorf("expected one handoff per chunk, got %d handoffs for %d chunks", len(sender.sent), len(smallFactory.made))
	}
}

type smallChunkFactory struct {
	size int
	made []*Chunk
}

func (f *smallChunkFactory) NewChunk(size int) (*Chunk, error) {
	c := &Chunk{data: make([]byte, f.size), fd: -1}
	f.made = append(f.made, c)
	return c, nil
}

func TestCursorInvalidateForcesNewChunkOnNextReserve(t *testing.T) {
	factory := &fakeFactory{}
	sender := &fakeSender{}
	cursor := NewCursor(factory, sender, nil)

	_, _, err := cursor.Reserve(rec(wire.Read, "/tmp/a"))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if len(factory.made) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(factory.made))
	}

	// Simulates the post-fork handler: the child's cursor must not
	// write further into the chunk the parent still holds.
	cursor.Invalidate()

	_, _, err = cursor.Reserve(rec(wire.Read, "/tmp/b"))
	if err != nil {
		t.Fatalf("Reserve after Invalidate: %v", err)
	}
	if len(factory.made) != 2 {
		t.Errorf("Invalidate should force a fresh chunk on next Reserve, got %d chunks total", len(factory.made))
	}
}
