package sqlils

import (
	"strconv"
	"strings"
)

// checkDigit appends the PICA modulo 11 check digit to a PPN. Weights start
// at 2 on the rightmost digit; a remainder check of 10 is written as "X".
func checkDigit(ppn string) string {
	ppn = strings.TrimSpace(ppn)
	if ppn == "" {
		return ""
	}
	sum, weight := 0, 2
	for i := len(ppn) - 1; i >= 0; i-- {
		sum += (int(ppn[i]) - '0') * weight
		weight++
	}
	p := 11 - sum%11
	switch p {
	case 11:
		return ppn + "0"
	case 10:
		return ppn + "X"
	default:
		return ppn + strconv.Itoa(p)
	}
}

// stripCheckDigit returns the bare PPN of a record id that carries a valid
// check digit, or id unchanged.
func stripCheckDigit(id string) string {
	id = strings.TrimSpace(id)
	if len(id) < 2 {
		return id
	}
	if bare := id[:len(id)-1]; checkDigit(bare) == id {
		return bare
	}
	return id
}

// picaRecode drops every byte outside printable ASCII.
func picaRecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 0x20 && c <= 0x7f {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// pinHash reproduces the catalog's pincode hash: the pin is blank padded to
// twelve characters and the first eight bytes are summed with weights 1..8.
func pinHash(pin string) int {
	padded := pin
	if len(padded) < 12 {
		padded += strings.Repeat(" ", 12-len(padded))
	}
	sum := 0
	for i := range 8 {
		sum += (i + 1) * int(padded[i])
	}
	return sum
}
