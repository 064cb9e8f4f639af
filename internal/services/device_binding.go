package services

import (
	"strings"

	"github.com/SAP-F-2025/exam-session-service/internal/models"
)

// ResolveDeviceBinding picks the unsubmitted session a visit from fingerprint
// should continue. An exact fingerprint match wins over the newest session
// that has no fingerprint yet. legacy is true for the latter case; the caller
// must bind the fingerprint when it activates the session.
//
// A nil fingerprint never resolves to an existing session.
func ResolveDeviceBinding(fingerprint *string, unsubmitted []*models.Session) (candidate *models.Session, legacy bool) {
	if fingerprint == nil {
		return nil, false
	}

	var exact, unbound *models.Session
	for _, s := range unsubmitted {
		if s.IsSubmitted() {
			continue
		}
		switch {
		case s.HasFingerprint() && *s.DeviceFingerprint == *fingerprint:
			if newer(s, exact) {
				exact = s
			}
		case !s.HasFingerprint():
			if newer(s, unbound) {
				unbound = s
			}
		}
	}

	if exact != nil {
		return exact, false
	}
	if unbound != nil {
		return unbound, true
	}
	return nil, false
}

func newer(s, than *models.Session) bool {
	if than == nil {
		return true
	}
	if s.CreatedAt.Equal(than.CreatedAt) {
		return s.ID > than.ID
	}
	return s.CreatedAt.After(than.CreatedAt)
}

// normalizeFingerprint maps blank fingerprints to nil
func normalizeFingerprint(fp *string) *string {
	if fp == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*fp)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
