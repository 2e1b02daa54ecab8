package frame

import "encoding/binary"

// EncodeRequest serializes a Request into a byte slice for channel
// transmission. Encoding never fails for well-formed inputs.
func EncodeRequest(r *Request) []byte {
	idBytes := []byte(r.ID)

	switch r.Type {
	case ReqConnect:
		ipBytes := []byte(r.DestIP)
		buf := make([]byte, 1+2+len(idBytes)+2+len(ipBytes)+2)
		i := 0
		buf[i] = r.Type
		i++
		i += putString(buf[i:], idBytes)
		i += putString(buf[i:], ipBytes)
		binary.BigEndian.PutUint16(buf[i:i+2], r.DestPort)
		return buf

	case ReqData:
		buf := make([]byte, 1+2+len(idBytes)+4+len(r.Payload))
		i := 0
		buf[i] = r.Type
		i++
		i += putString(buf[i:], idBytes)
		binary.BigEndian.PutUint32(buf[i:i+4], uint32(len(r.Payload)))
		i += 4
		copy(buf[i:], r.Payload)
		return buf

	default: // ReqDisconnect, ReqShutdownWrite
		buf := make([]byte, 1+2+len(idBytes))
		buf[0] = r.Type
		putString(buf[1:], idBytes)
		return buf
	}
}

// DecodeRequest parses a byte slice produced by EncodeRequest.
func DecodeRequest(data []byte) (*Request, error) {
	if len(data) < 1 {
		return nil, ErrMalformedFrame
	}
	r := &Request{Type: data[0]}
	rest := data[1:]

	id, rest, err := takeString(rest)
	if err != nil {
		return nil, err
	}
	r.ID = id

	switch r.Type {
	case ReqConnect:
		ip, rest, err := takeString(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 2 {
			return nil, ErrMalformedFrame
		}
		r.DestIP = ip
		r.DestPort = binary.BigEndian.Uint16(rest[:2])
		return r, nil

	case ReqData:
		if len(rest) < 4 {
			return nil, ErrMalformedFrame
		}
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(n) {
			return nil, ErrMalformedFrame
		}
		r.Payload = append([]byte(nil), rest[:n]...)
		return r, nil

	case ReqDisconnect, ReqShutdownWrite:
		return r, nil

	default:
		return nil, ErrMalformedFrame
	}
}

// EncodeResponse serializes a Response into a byte slice for channel
// transmission.
func EncodeResponse(r *Response) []byte {
	idBytes := []byte(r.ID)

	switch r.Type {
	case RespData:
		buf := make([]byte, 1+2+len(idBytes)+4+len(r.Payload))
		i := 0
		buf[i] = r.Type
		i++
		i += putString(buf[i:], idBytes)
		binary.BigEndian.PutUint32(buf[i:i+4], uint32(len(r.Payload)))
		i += 4
		copy(buf[i:], r.Payload)
		return buf

	case RespError:
		msgBytes := []byte(r.Message)
		buf := make([]byte, 1+2+len(idBytes)+2+len(msgBytes))
		i := 0
		buf[i] = r.Type
		i++
		i += putString(buf[i:], idBytes)
		putString(buf[i:], msgBytes)
		return buf

	default: // RespConnected, RespDisconnected
		buf := make([]byte, 1+2+len(idBytes))
		buf[0] = r.Type
		putString(buf[1:], idBytes)
		return buf
	}
}

// DecodeResponse parses a byte slice produced by EncodeResponse.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) < 1 {
		return nil, ErrMalformedFrame
	}
	r := &Response{Type: data[0]}
	rest := data[1:]

	id, rest, err := takeString(rest)
	if err != nil {
		return nil, err
	}
	r.ID = id

	switch r.Type {
	case RespData:
		if len(rest) < 4 {
			return nil, ErrMalformedFrame
		}
		n := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(n) {
			return nil, ErrMalformedFrame
		}
		r.Payload = append([]byte(nil), rest[:n]...)
		return r, nil

	case RespError:
		msg, _, err := takeString(rest)
		if err != nil {
			return nil, err
		}
		r.Message = msg
		return r, nil

	case RespConnected, RespDisconnected:
		return r, nil

	default:
		return nil, ErrMalformedFrame
	}
}

// putString writes a u16 length prefix followed by s into buf, returning
// the number of bytes written.
func putString(buf []byte, s []byte) int {
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(s)))
	copy(buf[2:], s)
	return 2 + len(s)
}

// takeString reads a u16-length-prefixed string off the front of data,
// returning the string, the remaining bytes, and an error if data is too
// short for the declared length.
func takeString(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, ErrMalformedFrame
	}
	n := binary.BigEndian.Uint16(data[:2])
	data = data[2:]
	if uint64(len(data)) < uint64(n) {
		return "", nil, ErrMalformedFrame
	}
	return string(data[:n]), data[n:], nil
}
