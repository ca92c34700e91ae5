// Package ippool hands out and recycles small IPv4 subnets for sandboxes
// from a configured base CIDR, one /N block per sandbox.
package ippool

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/cmux/cmuxd/internal/errs"
)

// Lease is a host/sandbox IP pair carved out of the pool's base CIDR.
type Lease struct {
	Host     net.IP
	Sandbox  net.IP
	PrefixLen int
}

func (l Lease) String() string {
	return fmt.Sprintf("%s/%d <-> %s/%d", l.Host, l.PrefixLen, l.Sandbox, l.PrefixLen)
}

// Pool is a deterministic linear-scan allocator over a base CIDR, divided
// into fixed-size blocks (default /30: one usable host pair per block).
// All operations are logically single-threaded: they execute while holding
// the pool's lock and never perform I/O.
type Pool struct {
	mu sync.Mutex

	base       uint32 // base network address, host order
	blockBits  int    // bits per block, e.g. 2 for /30 (4 addresses/block)
	prefixLen  int    // CIDR prefix length reported on leases
	numBlocks  uint32
	reserved   int // number of leading blocks skipped (gateway/broadcast)
	nextOffset uint32
	allocated  map[uint32]bool // block offset -> in use
}

// New builds a pool over cidr (e.g. "10.42.0.0/16"), handing out blocks of
// size prefixLen each (e.g. 30 for /30 blocks), skipping the first
// `reserved` blocks.
func New(cidr string, prefixLen int, reserved int) (*Pool, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errs.InvalidRequest("invalid pool cidr %q: %v", cidr, err)
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return nil, errs.InvalidRequest("pool cidr %q is not IPv4", cidr)
	}
	if prefixLen < ones || prefixLen > 30 {
		return nil, errs.InvalidRequest("block prefix /%d invalid for base /%d", prefixLen, ones)
	}
	blockBits := 32 - prefixLen
	numBlocks := uint32(1) << uint(prefixLen-ones)
	base := binary.BigEndian.Uint32(ipnet.IP.To4())

	return &Pool{
		base:       base,
		blockBits:  blockBits,
		prefixLen:  prefixLen,
		numBlocks:  numBlocks,
		reserved:   reserved,
		nextOffset: uint32(reserved),
		allocated:  make(map[uint32]bool),
	}, nil
}

// Allocate returns the lowest free block at or after the scan cursor,
// wrapping around, skipping reserved and already-allocated blocks.
func (p *Pool) Allocate() (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := uint32(0); i < p.numBlocks; i++ {
		offset := (p.nextOffset + i) % p.numBlocks
		if offset < uint32(p.reserved) {
			continue
		}
		if p.allocated[offset] {
			continue
		}
		p.allocated[offset] = true
		p.nextOffset = (offset + 1) % p.numBlocks
		return p.leaseAt(offset), nil
	}
	return Lease{}, errs.IpPoolExhausted("no free /%d blocks remaining in pool", p.prefixLen)
}

// Release returns a previously allocated block to the free set. Releasing
// an unallocated or out-of-range lease is a no-op.
func (p *Pool) Release(l Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset, ok := p.offsetOf(l.Host)
	if !ok {
		return
	}
	delete(p.allocated, offset)
}

// Reserve marks the block containing ip as allocated, used by backends
// (PVE) that must reconcile pool state with externally observed IPs at
// startup. Reserving an address outside the pool's range is a no-op.
func (p *Pool) Reserve(ip net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	offset, ok := p.offsetOf(ip)
	if !ok {
		return
	}
	p.allocated[offset] = true
}

func (p *Pool) leaseAt(offset uint32) Lease {
	blockBase := p.base + (offset << uint(p.blockBits))
	host := ipFromUint32(blockBase + 1)
	sandbox := ipFromUint32(blockBase + 2)
	return Lease{Host: host, Sandbox: sandbox, PrefixLen: p.prefixLen}
}

// offsetOf recovers the block offset containing ip, if it falls within the
// pool's range, by matching either candidate position within a block.
func (p *Pool) offsetOf(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	addr := binary.BigEndian.Uint32(v4)
	if addr < p.base {
		return 0, false
	}
	rel := addr - p.base
	blockSize := uint32(1) << uint(p.blockBits)
	offset := rel / blockSize
	if offset >= p.numBlocks {
		return 0, false
	}
	return offset, true
}

func ipFromUint32(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}
