package http

import (
	"errors"
	"math"
)

var errInvalidNumber = errors.New("invalid number")

func atoi(b []byte) (int, error) {
	var n int
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errInvalidNumber
		}
		if n > (math.MaxInt-9)/10 {
			return 0, errInvalidNumber
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// Convert integer to hex without allocation
func writeHexToBuffer(n int, buf []byte) int {
	if n == 0 {
		buf[0] = '0'
		return 1
	}

	const hexDigits = "0123456789abcdef"
	digits := 0
	temp := n

	// Calculate number of hex digits needed
	for temp > 0 {
		digits++
		temp >>= 4
	}

	// Write hex digits backwards
	for i := digits - 1; i >= 0; i-- {
		buf[i] = hexDigits[n&0xF]
		n >>= 4
	}

	return digits
}

func hexToByte(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 255 // Invalid hex
}

// parseHex decodes a chunk size. Sizes beyond 2^60 are rejected.
func parseHex(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errInvalidNumber
	}

	var n int64
	for _, c := range b {
		v := hexToByte(c)
		if v == 255 {
			return 0, errInvalidNumber
		}
		if n >= 1<<56 {
			return 0, errInvalidNumber
		}
		n = n<<4 | int64(v)
	}
	return n, nil
}
