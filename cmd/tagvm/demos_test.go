package main

import (
	"bytes"
	"testing"

	"github.com/chazu/tagvm/vm"
)

func TestDemosRun(t *testing.T) {
	for name := range demos {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			opts := vm.DefaultOptions()
			opts.Output = &out
			rt, err := vm.New(opts)
			if err != nil {
				t.Fatal(err)
			}
			if err := runDemos(rt, name); err != nil {
				t.Fatalf("demo %s: %v", name, err)
			}
		})
	}
}

func TestDemoPrintlnOutput(t *testing.T) {
	var out bytes.Buffer
	opts := vm.DefaultOptions()
	opts.Output = &out
	rt, err := vm.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := demoPrintln(rt); err != nil {
		t.Fatal(err)
	}
	want := "hello, world\n42\nnil\nObject[1, 2]\n"
	if out.String() != want {
		t.Errorf("println demo wrote %q, want %q", out.String(), want)
	}
}

func TestUnknownDemo(t *testing.T) {
	rt, err := vm.New(vm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := runDemos(rt, "nope"); err == nil {
		t.Error("unknown demo ran")
	}
}
