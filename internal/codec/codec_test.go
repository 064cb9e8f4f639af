package codec

import (
	"strings"
	"testing"
)

func TestPackUnpack(t *testing.T) {
	long := strings.Repeat("서울은 대한민국의 수도이다. ", 400)

	tests := []struct {
		name           string
		in             string
		threshold      int
		wantCompressed bool
	}{
		{name: "short text stays plain", in: "The capital is Seoul.", threshold: DefaultThreshold},
		{name: "long text is compressed", in: long, threshold: DefaultThreshold, wantCompressed: true},
		{name: "threshold disabled", in: long, threshold: 0},
		{name: "empty", in: "", threshold: DefaultThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := Pack(tt.in, tt.threshold)
			if err != nil {
				t.Fatalf("Pack() error = %v", err)
			}
			if IsCompressed(packed) != tt.wantCompressed {
				t.Fatalf("IsCompressed() = %v, want %v", IsCompressed(packed), tt.wantCompressed)
			}
			got, err := Unpack(packed)
			if err != nil {
				t.Fatalf("Unpack() error = %v", err)
			}
			if got != tt.in {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.in))
			}
		})
	}
}

func TestPackIsIdempotent(t *testing.T) {
	long := strings.Repeat("x", DefaultThreshold*2)
	once, err := Pack(long, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Pack(once, DefaultThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Error("packing a packed payload must not wrap it again")
	}
}

func TestUnpackInvalidPayload(t *testing.T) {
	if _, err := Unpack(CompressedPrefix + "%%%not-base64"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := Unpack(CompressedPrefix + "aGVsbG8="); err == nil {
		t.Error("expected error for non-gzip payload")
	}
}
