package pi30

import (
	"bytes"
	"fmt"
)

const (
	crcPolynomial = 0x1021
	crcInitial    = 0x0000

	frameStart = '('
	frameEnd   = ')'
	terminator = '\r'
)

// Checksum computes CRC16-XMODEM: polynomial 0x1021, initial value 0,
// no reflection, no final xor.
func Checksum(data []byte) uint16 {
	var crc uint16 = crcInitial
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
			crc &= 0xFFFF
		}
	}
	return crc
}

// Devices never put '(', CR or LF in the CRC of a response: such a byte is
// sent incremented by one.
func adjustCRCByte(b byte) byte {
	switch b {
	case frameStart, terminator, '\n':
		return b + 1
	}
	return b
}

// VerifyChecksum checks the two CRC bytes preceding the terminator of a
// response frame against the CRC of everything from the opening marker up
// to them.
func VerifyChecksum(raw []byte) error {
	start := bytes.IndexByte(raw, frameStart)
	if start < 0 {
		return fmt.Errorf("%w: no opening marker", ErrMalformedFrame)
	}
	frame := raw[start:]
	end := bytes.IndexByte(frame, terminator)
	if end < 0 {
		return fmt.Errorf("%w: no terminator", ErrMalformedFrame)
	}
	if end < 3 {
		return fmt.Errorf("%w: frame too short for checksum", ErrMalformedFrame)
	}

	crc := Checksum(frame[:end-2])
	hi, lo := adjustCRCByte(byte(crc>>8)), adjustCRCByte(byte(crc))
	if frame[end-2] != hi || frame[end-1] != lo {
		return fmt.Errorf("%w: got %02x%02x, want %02x%02x", ErrChecksumMismatch, frame[end-2], frame[end-1], hi, lo)
	}
	return nil
}
