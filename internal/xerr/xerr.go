// Package xerr defines the core's error kinds, wrapped with
// fmt.Errorf("%w") and checked with errors.Is/errors.As — the idiomatic Go
// error model chosen over C-style negative error-code returns.
package xerr

import "errors"

var (
	// ErrOutOfMemory: PFA/heap cannot satisfy a request.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInvalidFree: heap guard corrupted or pointer outside any known region.
	ErrInvalidFree = errors.New("invalid free")
	// ErrMmioTimeout: controller/port reset or command completion did not
	// complete within a bounded spin.
	ErrMmioTimeout = errors.New("mmio timeout")
	// ErrCommandFailed: xHCI command completion code != SUCCESS.
	ErrCommandFailed = errors.New("command failed")
	// ErrTransferFailed: transfer event completion code != SUCCESS/SHORT_PACKET.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrNotPresent: PCI device or ACPI table not found; initrd module absent.
	ErrNotPresent = errors.New("not present")
	// ErrMalformed: CPIO header bad magic, truncated entry, name size overflow.
	ErrMalformed = errors.New("malformed")
)
