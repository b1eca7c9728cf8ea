//go:build linux || darwin || freebsd

package runtime

import "golang.org/x/sys/unix"

// defaultReservedPages sizes the address-space reservation of a memory
// with no declared maximum. Reservation is PROT_NONE, so the cost is
// address space, not resident pages.
const defaultReservedPages = 8192

// reserveAddressSpace maps numBytes of inaccessible anonymous memory.
func reserveAddressSpace(numBytes uint64) ([]byte, error) {
	return unix.Mmap(-1, 0, int(numBytes), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// commitPages makes a span of a reservation readable and writable. The
// kernel supplies zero pages.
func commitPages(span []byte) error {
	if len(span) == 0 {
		return nil
	}
	return unix.Mprotect(span, unix.PROT_READ|unix.PROT_WRITE)
}

// releaseAddressSpace unmaps a whole reservation.
func releaseAddressSpace(region []byte) {
	if len(region) > 0 {
		_ = unix.Munmap(region)
	}
}
