package core

import (
	"errors"
	"fmt"
	"net/netip"
)

// ErrAddressExhausted is returned when an allocator has handed out every
// host address of its block.
var ErrAddressExhausted = errors.New("address block exhausted")

// AddressAllocator hands out consecutive IPv4 host addresses from a block,
// skipping the network and broadcast addresses.
type AddressAllocator struct {
	prefix netip.Prefix
	next   netip.Addr
}

// NewAddressAllocator returns an allocator for prefix. The first address
// handed out is the one after the network address.
func NewAddressAllocator(prefix netip.Prefix) (*AddressAllocator, error) {
	if !prefix.IsValid() || !prefix.Addr().Is4() {
		return nil, fmt.Errorf("address allocator: %q is not an IPv4 prefix", prefix)
	}
	prefix = prefix.Masked()
	return &AddressAllocator{prefix: prefix, next: prefix.Addr().Next()}, nil
}

// MustAddressAllocator is NewAddressAllocator for compile-time constant
// blocks.
func MustAddressAllocator(prefix string) *AddressAllocator {
	a, err := NewAddressAllocator(netip.MustParsePrefix(prefix))
	if err != nil {
		panic(err)
	}
	return a
}

// Prefix returns the block the allocator draws from.
func (a *AddressAllocator) Prefix() netip.Prefix { return a.prefix }

// Next returns the next free host address.
func (a *AddressAllocator) Next() (netip.Addr, error) {
	addr := a.next
	if !addr.IsValid() || !a.prefix.Contains(addr) || isBroadcast(a.prefix, addr) {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrAddressExhausted, a.prefix)
	}
	a.next = addr.Next()
	return addr, nil
}

// HostPrefix returns addr with the allocator's prefix length.
func (a *AddressAllocator) HostPrefix(addr netip.Addr) netip.Prefix {
	return netip.PrefixFrom(addr, a.prefix.Bits())
}

func isBroadcast(prefix netip.Prefix, addr netip.Addr) bool {
	if prefix.Bits() >= 31 {
		return false
	}
	b := addr.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	hostBits := 32 - prefix.Bits()
	mask := uint32(1)<<hostBits - 1
	return v&mask == mask
}
