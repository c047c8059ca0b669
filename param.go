package tessera

// Key is a raw store key. The store treats keys and values as opaque byte
// strings; Key exists so callers can tag byte slices with intent.
type Key []byte

// param is the raw byte view handed to the native client for one call. A
// string argument is converted through Go's byte-preserving UTF-8 conversion
// and the resulting copy is owned by the param; a []byte or Key argument is
// borrowed directly with no copy. The native client never retains an
// argument buffer past the call's return, so a borrowed view only has to
// stay valid for the call itself.
type param struct {
	data  []byte
	owned bool
}

// newParam converts a host value that is semantically "bytes" into a param.
// Accepted shapes are string, []byte and Key; anything else is a caller
// contract violation reported as ErrInvalidParam before any native call.
func newParam(v any) (param, error) {
	switch b := v.(type) {
	case string:
		return param{data: []byte(b), owned: true}, nil
	case []byte:
		return param{data: b}, nil
	case Key:
		return param{data: b}, nil
	default:
		return param{}, ErrInvalidParam
	}
}

// free drops an owned copy. It must run on every exit path of the enclosing
// native call, error paths included.
func (p *param) free() {
	if p.owned {
		p.data = nil
	}
}
