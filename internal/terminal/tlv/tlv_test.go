package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/payrouter/internal/testutil/testlog"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	testlog.Start(t)
	in := []Field{
		String(1, "POS Terminal -101.1 (4-digit approval)"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}},
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if text, err := out[0].Text(); err != nil || text != "POS Terminal -101.1 (4-digit approval)" {
		t.Fatalf("unexpected first field %q err=%v", text, err)
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformed(t *testing.T) {
	testlog.Start(t)
	if _, err := DecodeFields([]byte{1, 2, 3}); !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	if _, err := DecodeFields(payload); !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
	// declared length far beyond the payload must not allocate or panic
	huge := []byte{0, 1, TypeString, 0xFF, 0xFF, 0xFF, 0xFF}
	if _, err := DecodeFields(huge); !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue for huge length, got %v", err)
	}
}

func TestTextChecksTypeAndEncoding(t *testing.T) {
	testlog.Start(t)
	if _, err := (Field{ID: 2, Type: TypeU32, Value: []byte{0, 0, 0, 1}}).Text(); err == nil {
		t.Fatalf("expected type mismatch")
	}
	if _, err := (Field{ID: 2, Type: TypeString, Value: []byte{0xff, 0xfe}}).Text(); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}
