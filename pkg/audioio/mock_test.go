package audioio

import (
	"context"
	"errors"
	"testing"
)

func TestMockSink_WriteFlushClear(t *testing.T) {
	cfg := DefaultConfig()
	sink := NewMockSink(cfg, nil)
	defer sink.Close()

	ctx := context.Background()

	if err := sink.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Write a chunk
	chunk := AudioChunk{
		Samples:    make([]int16, 480),
		SampleRate: 24000,
		Channels:   1,
	}

	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 1 {
		t.Errorf("Expected 1 chunk written, got %d", stats.ChunksWritten)
	}

	// Flush should succeed
	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	// Write more and clear
	if err := sink.Write(ctx, chunk); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	// Stats should still show 2 chunks written
	stats = sink.Stats()
	if stats.ChunksWritten != 2 {
		t.Errorf("Expected 2 chunks written, got %d", stats.ChunksWritten)
	}
}

func TestMockSink_NotRunning(t *testing.T) {
	cfg := DefaultConfig()
	sink := NewMockSink(cfg, nil)
	defer sink.Close()

	ctx := context.Background()

	// Write without starting should fail
	chunk := AudioChunk{
		Samples:    make([]int16, 480),
		SampleRate: 24000,
		Channels:   1,
	}

	err := sink.Write(ctx, chunk)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning when writing to non-running sink, got %v", err)
	}
}

func TestMockSink_Inspection(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	ctx := context.Background()

	sink.StartErr = errors.New("device busy")
	if err := sink.Start(ctx); err == nil {
		t.Fatal("expected StartErr")
	}
	sink.StartErr = nil
	if err := sink.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		sink.Write(ctx, AudioChunk{Samples: []int16{int16(i)}, SampleRate: 24000, Channels: 1})
	}
	chunks := sink.Chunks()
	if len(chunks) != 3 || chunks[2].Samples[0] != 2 {
		t.Errorf("Chunks() = %v", chunks)
	}
	sink.Clear()
	if sink.Clears() != 1 || sink.Starts() != 1 {
		t.Errorf("clears=%d starts=%d", sink.Clears(), sink.Starts())
	}

	sink.Close()
	if err := sink.Start(ctx); err == nil {
		t.Error("Start after Close should fail")
	}
}

func TestAudioChunk_Bytes(t *testing.T) {
	chunk := AudioChunk{
		Samples:    []int16{0x0102, 0x0304, -1},
		SampleRate: 24000,
		Channels:   1,
	}

	bytes := chunk.Bytes()
	if len(bytes) != 6 {
		t.Errorf("Expected 6 bytes, got %d", len(bytes))
	}

	// Check little-endian encoding
	if bytes[0] != 0x02 || bytes[1] != 0x01 {
		t.Errorf("First sample not encoded correctly: %v", bytes[0:2])
	}
}

func TestAudioChunk_FromBytes(t *testing.T) {
	data := []byte{0x02, 0x01, 0x04, 0x03, 0xFF, 0xFF}

	var chunk AudioChunk
	chunk.FromBytes(data, 24000, 1)

	if len(chunk.Samples) != 3 {
		t.Errorf("Expected 3 samples, got %d", len(chunk.Samples))
	}

	if chunk.Samples[0] != 0x0102 {
		t.Errorf("First sample incorrect: got %d, expected %d", chunk.Samples[0], 0x0102)
	}

	if chunk.Samples[2] != -1 {
		t.Errorf("Third sample incorrect: got %d, expected -1", chunk.Samples[2])
	}
}

func TestAudioChunk_Duration(t *testing.T) {
	chunk := AudioChunk{
		Samples:    make([]int16, 480), // 20ms at 24kHz mono
		SampleRate: 24000,
		Channels:   1,
	}

	duration := chunk.Duration()
	expected := 0.02 // 20ms

	if duration < expected-0.001 || duration > expected+0.001 {
		t.Errorf("Expected duration ~%f, got %f", expected, duration)
	}
}

