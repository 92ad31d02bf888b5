package cbor

import (
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jessiemongeon1/response-verification"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	s = strings.ReplaceAll(s, " ", "")
	buf, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func u8(v uint64) Unsigned { return Unsigned{Width: Width8, Value: v} }

func TestDecodeExamples(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out Value
	}{
		{"83070809", Array{u8(7), u8(8), u8(9)}},
		{"8307820809820A0B", Array{
			u8(7),
			Array{u8(8), u8(9)},
			Array{u8(10), u8(11)},
		}},
		{"826161a161626163", Array{
			ByteString("a"),
			Map{"b": ByteString("c")},
		}},
		{"A26161076162820809", Map{
			"a": u8(7),
			"b": Array{u8(8), u8(9)},
		}},
		{"1903e8", Unsigned{Width: Width16, Value: 1000}},
		{"1a000f4240", Unsigned{Width: Width32, Value: 1000000}},
		{"1b000000e8d4a51000", Unsigned{Width: Width64, Value: 1000000000000}},
		{"20", Signed{Width: Width8, Magnitude: 0}},
		{"3863", Signed{Width: Width8, Magnitude: 99}},
		{"3903e7", Signed{Width: Width16, Magnitude: 999}},
		{"4401020304", ByteString{1, 2, 3, 4}},
		{"40", ByteString{}},
		{"80", Array{}},
		{"a0", Map{}},
	} {
		got, err := Decode(mustHex(t, tc.in))
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.out) {
			t.Fatalf("%s: expected %s, got %s", tc.in, Diagnostic(tc.out), Diagnostic(got))
		}
	}
}

func TestHashTreeTags(t *testing.T) {
	for i := 0; i <= 4; i++ {
		got, err := Decode([]byte{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		if got != HashTreeTag(i) {
			t.Fatalf("inline %d: expected tag, got %#v", i, got)
		}

		// The one-byte argument form disambiguates.
		got, err = Decode([]byte{0x18, byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		if got != u8(uint64(i)) {
			t.Fatalf("prefixed %d: expected Unsigned, got %#v", i, got)
		}
	}

	got, err := Decode([]byte{5})
	if err != nil {
		t.Fatal(err)
	}
	if got != u8(5) {
		t.Fatalf("expected Unsigned(5), got %#v", got)
	}

	got, err = Decode(mustHex(t, "8302 43666f6f 8203 43626172"))
	if err != nil {
		t.Fatal(err)
	}
	expected := Array{
		TagLabeled,
		ByteString("foo"),
		Array{TagLeaf, ByteString("bar")},
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %s, got %s", Diagnostic(expected), Diagnostic(got))
	}
}

func TestSignedInt64(t *testing.T) {
	n, ok := Signed{Width: Width8, Magnitude: 99}.Int64()
	if !ok || n != -100 {
		t.Fatalf("expected -100, got %d (%v)", n, ok)
	}
	_, ok = Signed{Width: Width64, Magnitude: 1 << 63}.Int64()
	if ok {
		t.Fatal("expected overflow")
	}
}

func TestSkipsTagsAndSimpleValues(t *testing.T) {
	// Self-describing CBOR tag 55799 in front of an array.
	got, err := Decode(mustHex(t, "d9d9f7 820102"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, Array{TagFork, TagLabeled}) {
		t.Fatalf("got %s", Diagnostic(got))
	}

	// Simple value "true" dropped, then 7.
	got, err = Decode(mustHex(t, "f5 07"))
	if err != nil {
		t.Fatal(err)
	}
	if got != u8(7) {
		t.Fatalf("got %s", Diagnostic(got))
	}
}

func TestDuplicateMapKeys(t *testing.T) {
	got, err := Decode(mustHex(t, "a2 6161 07 6161 08"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, Map{"a": u8(8)}) {
		t.Fatalf("got %s", Diagnostic(got))
	}
}

func TestDecodeErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		err  error
	}{
		{"trailing", "0707", verification.ErrExtraBytes},
		{"trailing after array", "83070809 00", verification.ErrExtraBytes},
		{"empty", "", verification.ErrTruncated},
		{"short argument", "19 03", verification.ErrTruncated},
		{"short byte string", "44 0102", verification.ErrTruncated},
		{"short array", "83 0708", verification.ErrTruncated},
		{"huge array", "9b ffffffffffffffff", verification.ErrTruncated},
		{"huge map", "bb ffffffffffffffff", verification.ErrTruncated},
		{"info 28", "1c", verification.ErrInvalidInfo},
		{"indefinite", "9f 07 ff", verification.ErrInvalidInfo},
		{"integer key", "a1 07 07", verification.ErrInvalidMapKey},
		{"non-utf8 key", "a1 41ff 07", verification.ErrInvalidMapKey},
		{"dangling tag", "d9d9f7", verification.ErrTruncated},
	} {
		_, err := Decode(mustHex(t, tc.in))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var de *verification.DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("%s: expected DecodeError, got %T", tc.name, err)
		}
		if !errors.Is(err, tc.err) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.err, err)
		}
	}
}

func TestMaxDepth(t *testing.T) {
	nested := append([]byte(strings.Repeat("\x81", 10)), 0x07)

	d := NewDecoder(DecoderOpts{MaxDepth: 5})
	if _, err := d.Decode(nested); !errors.Is(err, verification.ErrTooDeep) {
		t.Fatalf("expected ErrTooDeep, got %v", err)
	}

	d = NewDecoder(DecoderOpts{MaxDepth: 10})
	if _, err := d.Decode(nested); err != nil {
		t.Fatal(err)
	}
}

func TestStringArray(t *testing.T) {
	v, err := Decode(mustHex(t, "83 69687474705f65787072 61 61 63 3c243e"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := StringArray(v, "expr_path")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"http_expr", "a", "<$>"}) {
		t.Fatalf("got %v", got)
	}

	if _, err := StringArray(Array{u8(7)}, "expr_path"); err == nil {
		t.Fatal("expected error")
	}
	var se *verification.StructuralError
	if _, err := StringArray(u8(7), "expr_path"); !errors.As(err, &se) {
		t.Fatalf("expected StructuralError, got %v", err)
	}
}
