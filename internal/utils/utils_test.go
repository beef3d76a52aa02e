package utils

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpegTwoFrames(t *testing.T) {
	first := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0xBB, 0xCC, 0xFF, 0xD9}
	stream := append(append([]byte{}, first...), second...)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte{}, scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[1], second) {
		t.Errorf("Second frame mismatch: %X", got[1])
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand("sh", "-c", "echo boom 1>&2")
	if err := cmd.Run(); err != nil {
		t.Skipf("sh not available: %v", err)
	}
	if !strings.Contains(cmd.Logs(), "boom") {
		t.Errorf("Expected stderr to be captured, got %q", cmd.Logs())
	}

	var nilCmd *SafeCommand
	if nilCmd.Logs() != "" {
		t.Error("Expected nil SafeCommand to report no logs")
	}
}
