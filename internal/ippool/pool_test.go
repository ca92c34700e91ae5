package ippool

import (
	"testing"

	"github.com/cmux/cmuxd/internal/errs"
)

func TestAllocateDistinctAndInCIDR(t *testing.T) {
	p, err := New("10.42.0.0/24", 30, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		l, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: %v", i, err)
		}
		if seen[l.Host.String()] {
			t.Fatalf("duplicate host IP %s", l.Host)
		}
		seen[l.Host.String()] = true
		if !l.Host.To4()[0:3].Equal([]byte{10, 42, 0}) {
			t.Fatalf("host %s outside configured CIDR", l.Host)
		}
	}
}

func TestAllocateReservedSkipped(t *testing.T) {
	p, err := New("10.42.0.0/24", 30, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if l.Host.String() != "10.42.0.9" {
		t.Fatalf("expected first lease to skip 2 reserved blocks, got host %s", l.Host)
	}
}

func TestReleaseAndReallocate(t *testing.T) {
	p, err := New("10.42.0.0/30", 30, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := p.Allocate(); err == nil {
		t.Fatalf("expected exhaustion with single-block pool")
	}
	p.Release(l)
	if _, err := p.Allocate(); err != nil {
		t.Fatalf("expected reallocation to succeed after release: %v", err)
	}
}

func TestExhaustionError(t *testing.T) {
	p, err := New("10.42.0.0/30", 30, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Allocate(); err != nil {
		t.Fatalf("first Allocate: %v", err)
	}
	_, err = p.Allocate()
	if errs.KindOf(err) != errs.KindIpPoolExhausted {
		t.Fatalf("expected IpPoolExhausted, got %v", err)
	}
}

func TestReserveBlocksAllocation(t *testing.T) {
	p, err := New("10.42.0.0/24", 30, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Reserve([]byte{10, 42, 0, 1})
	l, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if l.Host.String() == "10.42.0.1" {
		t.Fatalf("reserved block should not be handed out")
	}
}
