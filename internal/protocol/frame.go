package protocol

import (
	"encoding/binary"
	"fmt"
)

// Audio frames travel on the binary sub-channel with an 8-byte header:
// 4-byte big-endian sequence number followed by a 4-byte big-endian
// payload length, then the encoded payload.
const FrameHeaderSize = 8

// MaxFramePayload bounds a single frame. The transport read limit is the
// real guard; this catches corrupt headers before allocation.
const MaxFramePayload = 512 * 1024

// AudioFrame is one sequenced chunk of encoded voice audio. Sequence
// numbers start at 0 for every command and increase by one per frame.
type AudioFrame struct {
	Sequence uint32
	Payload  []byte
}

// EncodeFrame serializes a frame to its wire form.
func EncodeFrame(frame AudioFrame) []byte {
	buf := make([]byte, FrameHeaderSize+len(frame.Payload))
	binary.BigEndian.PutUint32(buf[0:4], frame.Sequence)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(frame.Payload)))
	copy(buf[FrameHeaderSize:], frame.Payload)
	return buf
}

// DecodeFrame parses a wire-form frame, validating the declared length
// against the actual payload.
func DecodeFrame(data []byte) (AudioFrame, error) {
	if len(data) < FrameHeaderSize {
		return AudioFrame{}, fmt.Errorf("audio frame too short: %d bytes", len(data))
	}
	seq := binary.BigEndian.Uint32(data[0:4])
	length := binary.BigEndian.Uint32(data[4:8])
	if length > MaxFramePayload {
		return AudioFrame{}, fmt.Errorf("audio frame payload length %d exceeds limit", length)
	}
	if int(length) != len(data)-FrameHeaderSize {
		return AudioFrame{}, fmt.Errorf("audio frame length mismatch: header says %d, got %d", length, len(data)-FrameHeaderSize)
	}
	return AudioFrame{Sequence: seq, Payload: data[FrameHeaderSize:]}, nil
}

// SequenceTracker detects gaps in a per-command frame sequence. The
// receiver surfaces gaps rather than reordering; frames are accepted in
// the order they arrive.
type SequenceTracker struct {
	started bool
	next    uint32
	gaps    int
}

// Observe records a frame's sequence number. It returns the number of
// frames skipped since the last observed frame (0 for an in-order frame)
// and false for a stale or duplicate sequence, which callers drop.
func (t *SequenceTracker) Observe(seq uint32) (skipped uint32, ok bool) {
	if !t.started {
		t.started = true
		if seq != 0 {
			t.gaps++
			t.next = seq + 1
			return seq, true
		}
		t.next = 1
		return 0, true
	}
	if seq < t.next {
		return 0, false
	}
	skipped = seq - t.next
	if skipped > 0 {
		t.gaps++
	}
	t.next = seq + 1
	return skipped, true
}

// Gaps returns how many discontinuities have been observed.
func (t *SequenceTracker) Gaps() int {
	return t.gaps
}

// Reset prepares the tracker for a new command's sequence space.
func (t *SequenceTracker) Reset() {
	t.started = false
	t.next = 0
	t.gaps = 0
}
