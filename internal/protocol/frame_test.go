package protocol

import (
	"bytes"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	enqueuedAt := 123.456
	req := &Request{
		RequestID:  "abc-123",
		Class:      ClassZ3,
		ClientID:   "K1",
		Data:       Data{ClientHost: "localhost", ClientPort: 5001, Timestamp: 100.0},
		CreatedAt:  99.5,
		EnqueuedAt: &enqueuedAt,
	}

	frame, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}

	typ, payload, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != TypeRequest {
		t.Fatalf("type = %v, want TypeRequest", typ)
	}

	decoded, err := Decode(typ, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*Request)
	if !ok {
		t.Fatalf("decoded type = %T, want *Request", decoded)
	}
	if got.EnqueuedAt == nil || *got.EnqueuedAt != *req.EnqueuedAt {
		t.Fatalf("EnqueuedAt mismatch: got %v, want %v", got.EnqueuedAt, *req.EnqueuedAt)
	}
	gotFields, wantFields := *got, *req
	gotFields.EnqueuedAt, wantFields.EnqueuedAt = nil, nil
	if gotFields != wantFields {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{
		RequestID:      "abc-123",
		Status:         StatusSuccess,
		ProcessorID:    "P21",
		Result:         map[string]interface{}{"processed_by": "P21"},
		ProcessingTime: 0.42,
		CreatedAt:      100.1,
	}

	frame, err := EncodeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}

	typ, payload, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	decoded, err := Decode(typ, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*Response)
	if !ok {
		t.Fatalf("decoded type = %T, want *Response", decoded)
	}
	if got.RequestID != resp.RequestID || got.Status != resp.Status ||
		got.ProcessorID != resp.ProcessorID || got.ProcessingTime != resp.ProcessingTime {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, resp)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode(MessageType(99), nil); err != ErrUnknownType {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestReadFrameMultipleOnStream(t *testing.T) {
	req := NewRequest(ClassZ1, "K1", Data{})
	f1, _ := EncodeRequest(req)
	resp := NewResponse(req.RequestID, StatusSuccess, "P21")
	f2, _ := EncodeResponse(resp)

	stream := bytes.NewReader(append(f1, f2...))

	typ1, payload1, err := ReadFrame(stream)
	if err != nil {
		t.Fatalf("ReadFrame 1: %v", err)
	}
	if typ1 != TypeRequest {
		t.Fatalf("typ1 = %v, want TypeRequest", typ1)
	}
	decoded1, err := Decode(typ1, payload1)
	if err != nil {
		t.Fatalf("Decode 1: %v", err)
	}
	if decoded1.(*Request).RequestID != req.RequestID {
		t.Fatalf("request id mismatch")
	}

	typ2, payload2, err := ReadFrame(stream)
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	if typ2 != TypeResponse {
		t.Fatalf("typ2 = %v, want TypeResponse", typ2)
	}
	decoded2, err := Decode(typ2, payload2)
	if err != nil {
		t.Fatalf("Decode 2: %v", err)
	}
	if decoded2.(*Response).RequestID != resp.RequestID {
		t.Fatalf("response id mismatch")
	}
}
