package frame

import "testing"

func TestRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  *Request
	}{
		{"connect", &Request{Type: ReqConnect, ID: "10.0.0.2:54321-93.184.216.34:443", DestIP: "93.184.216.34", DestPort: 443}},
		{"data", &Request{Type: ReqData, ID: "abc", Payload: []byte("GET / HTTP/1.1\r\n\r\n")}},
		{"data empty payload", &Request{Type: ReqData, ID: "abc", Payload: nil}},
		{"disconnect", &Request{Type: ReqDisconnect, ID: "abc"}},
		{"shutdown write", &Request{Type: ReqShutdownWrite, ID: "abc"}},
		{"empty id", &Request{Type: ReqDisconnect, ID: ""}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeRequest(tc.req)
			decoded, err := DecodeRequest(encoded)
			if err != nil {
				t.Fatalf("DecodeRequest: %v", err)
			}
			if decoded.Type != tc.req.Type || decoded.ID != tc.req.ID {
				t.Fatalf("got %+v, want %+v", decoded, tc.req)
			}
			if tc.req.Type == ReqConnect {
				if decoded.DestIP != tc.req.DestIP || decoded.DestPort != tc.req.DestPort {
					t.Fatalf("got %+v, want %+v", decoded, tc.req)
				}
			}
			if tc.req.Type == ReqData && string(decoded.Payload) != string(tc.req.Payload) {
				t.Fatalf("payload mismatch: got %q want %q", decoded.Payload, tc.req.Payload)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		resp *Response
	}{
		{"connected", &Response{Type: RespConnected, ID: "abc"}},
		{"data", &Response{Type: RespData, ID: "abc", Payload: []byte("hello")}},
		{"data large", &Response{Type: RespData, ID: "abc", Payload: make([]byte, 1<<20)}},
		{"disconnected", &Response{Type: RespDisconnected, ID: "abc"}},
		{"error", &Response{Type: RespError, ID: "abc", Message: "connect timeout"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := EncodeResponse(tc.resp)
			decoded, err := DecodeResponse(encoded)
			if err != nil {
				t.Fatalf("DecodeResponse: %v", err)
			}
			if decoded.Type != tc.resp.Type || decoded.ID != tc.resp.ID || decoded.Message != tc.resp.Message {
				t.Fatalf("got %+v, want %+v", decoded, tc.resp)
			}
			if string(decoded.Payload) != string(tc.resp.Payload) {
				t.Fatalf("payload mismatch: got %d bytes want %d bytes", len(decoded.Payload), len(tc.resp.Payload))
			}
		})
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	if _, err := DecodeRequest(nil); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame on empty input")
	}
	if _, err := DecodeRequest([]byte{0xFF, 0, 0}); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame on unknown type tag")
	}
	// declared id length exceeds buffer
	if _, err := DecodeRequest([]byte{ReqDisconnect, 0, 10, 'a'}); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame on truncated id")
	}
	if _, err := DecodeResponse([]byte{RespData, 0, 0, 0, 0, 0, 5}); err != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame on truncated payload")
	}
}
