package services

import (
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

func TestResolveDeviceBinding(t *testing.T) {
	fpA, fpB := "fp-a", "fp-b"
	older := &models.Session{ID: 1, CreatedAt: baseTime}
	newerUnbound := &models.Session{ID: 2, CreatedAt: baseTime.Add(time.Minute)}
	boundA := &models.Session{ID: 3, CreatedAt: baseTime, DeviceFingerprint: &fpA}
	boundB := &models.Session{ID: 4, CreatedAt: baseTime.Add(time.Hour), DeviceFingerprint: &fpB}

	tests := []struct {
		name        string
		fingerprint *string
		sessions    []*models.Session
		wantID      uint
		wantLegacy  bool
	}{
		{"nil fingerprint never resolves", nil, []*models.Session{older, boundA}, 0, false},
		{"exact match wins over unbound", &fpA, []*models.Session{newerUnbound, boundA}, 3, false},
		{"newest unbound is claimed", &fpA, []*models.Session{older, newerUnbound, boundB}, 2, true},
		{"other device's session is not taken", &fpA, []*models.Session{boundB}, 0, false},
		{"no sessions", &fpA, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, legacy := ResolveDeviceBinding(tt.fingerprint, tt.sessions)
			var gotID uint
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.wantID || legacy != tt.wantLegacy {
				t.Errorf("ResolveDeviceBinding() = %d, %v, want %d, %v", gotID, legacy, tt.wantID, tt.wantLegacy)
			}
		})
	}
}

func TestResolveDeviceBinding_TieBreaksOnID(t *testing.T) {
	fp := "fp"
	a := &models.Session{ID: 7, CreatedAt: baseTime}
	b := &models.Session{ID: 9, CreatedAt: baseTime}

	got, _ := ResolveDeviceBinding(&fp, []*models.Session{b, a})
	if got == nil || got.ID != 9 {
		t.Errorf("ResolveDeviceBinding() = %+v, want session 9", got)
	}
}

func TestNormalizeFingerprint(t *testing.T) {
	if normalizeFingerprint(nil) != nil || normalizeFingerprint(strPtr("  ")) != nil {
		t.Errorf("blank fingerprints should normalize to nil")
	}
	if got := normalizeFingerprint(strPtr(" abc ")); got == nil || *got != "abc" {
		t.Errorf("normalizeFingerprint() = %v, want abc", got)
	}
}
