package starbind

import (
	"testing"

	"go.starlark.net/starlark"
)

func TestConv(t *testing.T) {
	script := `
# A list global that we'll unmarshal into a slice.
x = [1,2]
`
	globals, err := starlark.ExecFile(&starlark.Thread{}, "test.star", script, nil)
	if err != nil {
		t.Fatal(err)
	}
	starlarkVal, ok := globals["x"]
	if !ok {
		t.Fatal("missing global 'x'")
	}
	var x []int
	err = unmarshalStarlarkValue(starlarkVal, &x, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 2 || x[0] != 1 || x[1] != 2 {
		t.Fatalf("expected [1 2], got: %v", x)
	}
}

func TestUnpackArgs(t *testing.T) {
	var in commandArgs
	args := starlark.Tuple{starlark.String("continue")}
	kwargs := []starlark.Tuple{
		{starlark.String("Core"), starlark.MakeInt(1)},
		{starlark.String("Budget"), starlark.MakeInt(100)},
	}
	if err := unpackArgs(args, kwargs, &in); err != nil {
		t.Fatal(err)
	}
	if in.Name != "continue" || in.Core == nil || *in.Core != 1 || in.Budget != 100 || in.Wait {
		t.Fatalf("unexpected arguments %#v", in)
	}

	var w writeMemoryArgs
	data := starlark.NewList([]starlark.Value{starlark.MakeInt(0xde), starlark.MakeInt(0xad)})
	if err := unpackArgs(starlark.Tuple{starlark.MakeInt(0x1000), data}, nil, &w); err != nil {
		t.Fatal(err)
	}
	if w.Addr != 0x1000 || len(w.Data) != 2 || w.Data[0] != 0xde || w.Data[1] != 0xad {
		t.Fatalf("unexpected arguments %#v", w)
	}

	var none noArgs
	if err := unpackArgs(starlark.Tuple{starlark.MakeInt(1)}, nil, &none); err == nil {
		t.Fatalf("expected an error for too many arguments")
	}
	var r readMemoryArgs
	if err := unpackArgs(nil, []starlark.Tuple{{starlark.String("Nope"), starlark.MakeInt(1)}}, &r); err == nil {
		t.Fatalf("expected an error for an unknown keyword")
	}
	if err := unpackArgs(starlark.Tuple{starlark.MakeInt64(0x100000000)}, nil, &r); err == nil {
		t.Fatalf("expected an error for an address overflow")
	}
}
