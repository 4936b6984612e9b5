package raft

import "hash/crc32"

// checksum computes the CRC32 (IEEE polynomial) over the concatenation of
// the given byte slices, in the field order each file format covers
// (state: term++voted_for, log record: term++index++kind++cmd_len++command,
// snapshot: last_index++last_term). The log record body carries a kind byte
// between index and cmd_len, so it is one byte longer than a
// term++index++cmd_len++command layout.
func checksum(parts ...[]byte) uint32 {
	crc := crc32.NewIEEE()

	for _, part := range parts {
		crc.Write(part)
	}

	return crc.Sum32()
}
