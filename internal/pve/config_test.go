package pve

import (
	"testing"

	"github.com/cmux/cmuxd/internal/errs"
)

func TestParseTokenValid(t *testing.T) {
	id, secret, err := parseToken("cmux@pve!agent=abcd-1234-secret")
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if id != "cmux@pve!agent" {
		t.Errorf("id = %q, want cmux@pve!agent", id)
	}
	if secret != "abcd-1234-secret" {
		t.Errorf("secret = %q, want abcd-1234-secret", secret)
	}
}

func TestParseTokenMissingEquals(t *testing.T) {
	_, _, err := parseToken("cmux@pve!agent-no-equals-sign")
	if errs.KindOf(err) != errs.KindInvalidRequest {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestParseTokenEmptyHalf(t *testing.T) {
	_, _, err := parseToken("=secret")
	if errs.KindOf(err) != errs.KindInvalidRequest {
		t.Fatalf("expected InvalidRequest for empty id, got %v", err)
	}
	_, _, err = parseToken("cmux@pve!agent=")
	if errs.KindOf(err) != errs.KindInvalidRequest {
		t.Fatalf("expected InvalidRequest for empty secret, got %v", err)
	}
}

func TestParseTokenMalformedID(t *testing.T) {
	if _, _, err := parseToken("notanid=secret"); err == nil {
		t.Fatal("expected error for id missing @ and !")
	}
}
