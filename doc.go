// Package nvram implements a log-structured, wear-aware, power-fail-safe
// persistence engine for NOR-flash-like storage: a contiguous byte range
// whose cells can only be programmed from 1 to 0, where restoring a 1
// requires erasing an entire block.
//
// # Disk layout
//
// The reserved region is carved into fixed-size erasable Blocks, each
// holding a fixed number of fixed-size Pages:
//
//	region/
//	├── block 0
//	│   ├── header: magic(4) + generation(4)
//	│   ├── page 0: id(4) + sequence(2) + recordSize(2) + payload
//	│   ├── page 1: ...
//	│   └── padding
//	├── block 1
//	│   └── ...
//
// Pages accumulate an append-only log of fixed- or variable-length records
// keyed by their first 32-bit word. A Manager owns the region, tracks free
// pages, and drives a background collector that reclaims space by
// discarding, relocating, or erasing pages and blocks.
//
// Flash access is expressed through the Flash interface (see flash.go);
// package emulatedflash provides an in-memory test double.
package nvram
