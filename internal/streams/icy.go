/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package streams

// ICY metadata intervals: lossless streams can afford a large interval,
// lossy streams get a smaller one so titles update reasonably fast.
const (
	icyMetaIntLossless = 65536
	icyMetaIntLossy    = 8192
)

// icyMetaBlock renders one ICY metadata block: a single length byte
// (payload length divided by 16) followed by the zero-padded
// StreamTitle payload.
func icyMetaBlock(title string) []byte {
	payload := []byte("StreamTitle='" + title + "';")
	if pad := len(payload) % 16; pad != 0 {
		payload = append(payload, make([]byte, 16-pad)...)
	}
	block := make([]byte, 0, 1+len(payload))
	block = append(block, byte(len(payload)/16))
	return append(block, payload...)
}
