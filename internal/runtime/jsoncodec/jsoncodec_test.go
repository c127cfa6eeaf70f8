package jsoncodec

import (
	"bytes"
	"testing"
)

type trackingSample struct {
	MessageID string `json:"MessageId"`
	IsFault   bool   `json:"IsFault"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := trackingSample{MessageID: "abc", IsFault: true}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !bytes.Contains(data, []byte(`"MessageId":"abc"`)) {
		t.Fatalf("expected field tag to be honoured, got %s", data)
	}

	var out trackingSample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}
}

func TestDecodeValue(t *testing.T) {
	v, err := DecodeValue([]byte(`{"x":1,"tags":["a"]}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", v)
	}
	if m["x"] != float64(1) {
		t.Fatalf("expected x=1, got %v", m["x"])
	}

	if _, err := DecodeValue([]byte(`{broken`)); err == nil {
		t.Fatal("expected error for invalid document")
	}
}

func TestValid(t *testing.T) {
	if !Valid([]byte(`{"a":true}`)) {
		t.Fatal("expected valid document")
	}
	if Valid([]byte(`not json`)) {
		t.Fatal("expected invalid document")
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := trackingSample{MessageID: "m-1"}

	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded trackingSample
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != payload {
		t.Fatalf("expected decoded payload to match, got %#v", decoded)
	}
}
