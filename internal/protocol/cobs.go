package protocol

import "fmt"

// COBSDecode reverses consistent overhead byte stuffing. Each run starts with
// a code byte: code-1 literal bytes follow, and a run shorter than 0xFF is
// followed by an implicit zero unless it ends the input. A truncated final run
// yields the bytes that are present; the payload size check catches it.
func COBSDecode(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return nil, fmt.Errorf("%w: offset %d", ErrZeroByteInStream, i)
		}
		i++

		end := min(i+int(code)-1, len(src))
		out = append(out, src[i:end]...)
		i += int(code) - 1

		if code < 0xFF && i < len(src) {
			out = append(out, 0)
		}
	}

	return out, nil
}

// COBSEncode stuffs src so the output contains no zero bytes.
// COBSDecode(COBSEncode(p)) returns p for every input.
func COBSEncode(src []byte) []byte {
	dst := make([]byte, 1, len(src)+len(src)/254+2)
	codeIdx := 0
	code := byte(1)

	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}
	dst[codeIdx] = code

	return dst
}
