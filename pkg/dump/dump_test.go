package dump

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSnapshot(t *testing.T) {
	tests := []struct {
		name   string
		region []byte
		want   string
	}{
		{
			name:   "NUL terminated",
			region: append([]byte("boot ok\nclk init\n"), make([]byte, 16)...),
			want:   "boot ok\nclk init\n",
		},
		{
			name:   "No terminator",
			region: []byte("full region no nul"),
			want:   "full region no nul",
		},
		{
			name:   "Leading NUL",
			region: make([]byte, 8),
			want:   "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewRegion(bytes.NewReader(tc.region), len(tc.region))
			if err != nil {
				t.Fatalf("NewRegion() error = %v", err)
			}

			got, err := d.Snapshot()
			if err != nil {
				t.Fatalf("Snapshot() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Snapshot() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSnapshotSeesUpdates(t *testing.T) {
	region := []byte("first\x00      ")
	d, err := NewRegion(bytes.NewReader(region), len(region))
	if err != nil {
		t.Fatalf("NewRegion() error = %v", err)
	}

	if got, _ := d.Snapshot(); got != "first" {
		t.Fatalf("Snapshot() = %q, want %q", got, "first")
	}

	copy(region, "second\x00")
	if got, _ := d.Snapshot(); got != "second" {
		t.Errorf("Snapshot() after update = %q, want %q", got, "second")
	}
}

func TestWriteTo(t *testing.T) {
	region := []byte("log line\x00junk")
	d, err := NewRegion(bytes.NewReader(region), len(region))
	if err != nil {
		t.Fatalf("NewRegion() error = %v", err)
	}

	var sb strings.Builder
	n, err := d.WriteTo(&sb)
	if err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
	if n != int64(len("log line")) || sb.String() != "log line" {
		t.Errorf("WriteTo() wrote %q (%d bytes)", sb.String(), n)
	}
}

func TestEmptyRegion(t *testing.T) {
	if _, err := NewRegion(bytes.NewReader(nil), 0); !errors.Is(err, ErrEmptyRegion) {
		t.Errorf("NewRegion(0) error = %v, want ErrEmptyRegion", err)
	}
}
