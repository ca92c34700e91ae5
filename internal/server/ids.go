package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/cmux/cmuxd/internal/errs"
	"github.com/google/uuid"
)

// resolveID accepts a full UUID, a decimal index, or an unambiguous hex-id
// prefix (>= 1 character) and returns the canonical sandbox id.
func resolveID(ctx context.Context, s *Server, raw string) (string, error) {
	if _, err := uuid.Parse(raw); err == nil {
		if _, ok := s.Backend.Get(ctx, raw); ok {
			return raw, nil
		}
		return "", errs.NotFound(raw)
	}

	summaries, err := s.Backend.List(ctx)
	if err != nil {
		return "", err
	}

	if index, err := strconv.ParseUint(raw, 10, 64); err == nil {
		for _, sm := range summaries {
			if sm.Index == index {
				return sm.ID, nil
			}
		}
		return "", errs.NotFound(raw)
	}

	if !isHexPrefix(raw) {
		return "", errs.InvalidRequest("invalid sandbox id %q", raw)
	}

	var matches []string
	lower := strings.ToLower(raw)
	for _, sm := range summaries {
		if strings.HasPrefix(strings.ToLower(sm.ID), lower) {
			matches = append(matches, sm.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", errs.NotFound(raw)
	case 1:
		return matches[0], nil
	default:
		return "", errs.InvalidRequest("ambiguous short id")
	}
}

func isHexPrefix(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == '-') {
			return false
		}
	}
	return true
}
