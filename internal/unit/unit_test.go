package unit

import (
	"errors"
	"slices"
	"testing"

	"github.com/skriptd/modload/internal/testutil/testlog"
)

func TestDecodeSingleModule(t *testing.T) {
	testlog.Start(t)

	src := `
[[module]]
name = "a.b.Foo"
musts = ["a.b.Bar", "a.b.Bar", " a.b.Baz "]
optionals = ["a.b.Opt"]
body = "Foo = {}"
`
	decls, err := Decode([]byte(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decls) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(decls))
	}
	d := decls[0]
	if d.Name != "a.b.Foo" {
		t.Fatalf("name: %q", d.Name)
	}
	if !slices.Equal(d.Musts, []string{"a.b.Bar", "a.b.Baz"}) {
		t.Fatalf("musts not deduped/trimmed: %v", d.Musts)
	}
	if !slices.Equal(d.Optionals, []string{"a.b.Opt"}) {
		t.Fatalf("optionals: %v", d.Optionals)
	}
	if d.Body != "Foo = {}" {
		t.Fatalf("body: %q", d.Body)
	}
}

func TestDecodeArchiveUnit(t *testing.T) {
	testlog.Start(t)

	src := `
[[module]]
name = "core.Base"
body = "Base = {}"

[[module]]
name = "core.Mid"
musts = ["core.Base"]
body = "Mid = {}"
`
	decls, err := Decode([]byte(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decls) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(decls))
	}
	if decls[0].Name != "core.Base" || decls[1].Name != "core.Mid" {
		t.Fatalf("order not preserved: %v", decls)
	}
}

func TestDecodeRejectsBadUnits(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		src  string
		want error
	}{
		{"empty", ``, ErrNoDeclarations},
		{"unnamed", "[[module]]\nbody = \"x\"\n", ErrEmptyName},
		{"duplicate", "[[module]]\nname = \"m.A\"\n\n[[module]]\nname = \"m.A\"\n", ErrDuplicateName},
		{"self", "[[module]]\nname = \"m.A\"\nmusts = [\"m.A\"]\n", ErrSelfDependency},
	}
	for _, tc := range cases {
		if _, err := Decode([]byte(tc.src)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if _, err := Decode([]byte("not toml at all {{{")); err == nil {
		t.Fatalf("expected parse error for malformed unit")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	testlog.Start(t)

	in := []Decl{
		{Name: "core.Base", Body: "Base = {}"},
		{Name: "core.Mid", Musts: []string{"core.Base"}, Optionals: []string{"core.Extra"}, Body: "Mid = {}"},
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("round trip length: %d != %d", len(out), len(in))
	}
	if out[1].Name != "core.Mid" || !slices.Equal(out[1].Musts, []string{"core.Base"}) {
		t.Fatalf("round trip mismatch: %+v", out[1])
	}
}
