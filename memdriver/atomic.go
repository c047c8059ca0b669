package memdriver

import (
	"bytes"

	"github.com/tesserakv/tessera-go/capi"
)

// maxValueSize is the store's value size limit, enforced by
// MutationAppendIfFits.
const maxValueSize = 100_000

// applyMutation computes the post-mutation value for one atomic operation.
// present reports whether a prior value exists; base is that value. The
// rules follow the store's server-side semantics: integer operations work
// on little-endian unsigned integers at the operand's width, and most
// operations on an absent key simply store the operand.
func applyMutation(base []byte, present bool, operand []byte,
	op capi.MutationType) []byte {

	switch op {
	case capi.MutationAdd:
		return addLittleEndian(base, operand)

	case capi.MutationBitAnd:
		if !present {
			return dup(operand)
		}
		out := atWidth(base, len(operand))
		for i := range out {
			out[i] &= operand[i]
		}
		return out

	case capi.MutationBitOr:
		out := atWidth(base, len(operand))
		for i := range out {
			out[i] |= operand[i]
		}
		return out

	case capi.MutationBitXor:
		out := atWidth(base, len(operand))
		for i := range out {
			out[i] ^= operand[i]
		}
		return out

	case capi.MutationMax:
		if !present {
			return dup(operand)
		}
		if compareLittleEndian(base, operand) >= 0 {
			return atWidth(base, len(operand))
		}
		return dup(operand)

	case capi.MutationMin:
		if !present {
			return dup(operand)
		}
		if compareLittleEndian(base, operand) <= 0 {
			return atWidth(base, len(operand))
		}
		return dup(operand)

	case capi.MutationByteMax:
		if !present || bytes.Compare(operand, base) > 0 {
			return dup(operand)
		}
		return dup(base)

	case capi.MutationByteMin:
		if !present || bytes.Compare(operand, base) < 0 {
			return dup(operand)
		}
		return dup(base)

	case capi.MutationAppendIfFits:
		if !present {
			if len(operand) <= maxValueSize {
				return dup(operand)
			}
			return nil
		}
		if len(base)+len(operand) <= maxValueSize {
			return append(dup(base), operand...)
		}
		return dup(base)

	default:
		// Unknown mutation kinds leave the value unchanged.
		return dup(base)
	}
}

// addLittleEndian adds operand to base as little-endian unsigned integers.
// The result has the operand's width; carry beyond it is dropped.
func addLittleEndian(base, operand []byte) []byte {
	out := atWidth(base, len(operand))

	var carry uint16
	for i := range out {
		sum := uint16(out[i]) + uint16(operand[i]) + carry
		out[i] = byte(sum)
		carry = sum >> 8
	}

	return out
}

// compareLittleEndian compares two little-endian unsigned integers of
// possibly different widths.
func compareLittleEndian(a, b []byte) int {
	width := len(a)
	if len(b) > width {
		width = len(b)
	}
	for i := width - 1; i >= 0; i-- {
		var av, bv byte
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}

	return 0
}

// atWidth returns a copy of b zero-extended or truncated to width bytes.
func atWidth(b []byte, width int) []byte {
	out := make([]byte, width)
	copy(out, b)
	return out
}

func dup(b []byte) []byte {
	return append([]byte(nil), b...)
}
