package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/chazu/tagvm/vm"
)

type demoFunc func(rt *vm.Runtime) error

var demos = map[string]demoFunc{
	"add":       demoAdd,
	"intern":    demoIntern,
	"point":     demoPoint,
	"factorial": demoFactorial,
	"println":   demoPrintln,
}

func demoNames() string {
	names := make([]string, 0, len(demos))
	for n := range demos {
		names = append(names, n)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

func runDemos(rt *vm.Runtime, name string) error {
	if name != "all" {
		d, ok := demos[name]
		if !ok {
			return fmt.Errorf("unknown demo (want %s or all)", demoNames())
		}
		return d(rt)
	}
	for _, n := range []string{"add", "intern", "point", "factorial", "println"} {
		fmt.Printf("== %s\n", n)
		if err := demos[n](rt); err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
	}
	return nil
}

// demoAdd sends + through the Send instruction.
func demoAdd(rt *vm.Runtime) error {
	plus, err := rt.InternString("+")
	if err != nil {
		return err
	}
	code, err := rt.Assemble(
		vm.Op(vm.OpPrepCall),
		vm.OpV(vm.OpPush, plus), vm.Op(vm.OpBox),
		vm.OpN(vm.OpPush, 5), vm.Op(vm.OpBox),
		vm.OpN(vm.OpPush, 6), vm.Op(vm.OpBox),
		vm.OpN(vm.OpSend, 2),
		vm.Op(vm.OpHalt),
	)
	if err != nil {
		return err
	}
	result, err := rt.Run(code)
	if err != nil {
		return err
	}
	fmt.Printf("5 + 6 = %d\n", result.Int())
	return nil
}

func demoIntern(rt *vm.Runtime) error {
	a, err := rt.InternString("hello")
	if err != nil {
		return err
	}
	b, err := rt.InternString("hello")
	if err != nil {
		return err
	}
	c, err := rt.InternString("world")
	if err != nil {
		return err
	}
	fmt.Printf("intern(hello) == intern(hello): %v\n", a == b)
	fmt.Printf("intern(hello) == intern(world): %v\n", a == c)
	return nil
}

func demoPoint(rt *vm.Runtime) error {
	point, err := rt.DefineClass("Point", []string{"x", "y"}, rt.ObjectClass)
	if err != nil {
		return err
	}
	p, err := rt.NewInstance(point, 0)
	if err != nil {
		return err
	}
	if _, err := rt.SendString("x", p, vm.FromInt(10)); err != nil {
		return err
	}
	if _, err := rt.SendString("y", p, vm.FromInt(20)); err != nil {
		return err
	}
	x, err := rt.SendString("x", p)
	if err != nil {
		return err
	}
	y, err := rt.SendString("y", p)
	if err != nil {
		return err
	}
	fmt.Printf("p x = %d, p y = %d\n", x.Int(), y.Int())
	_, err = rt.SendString("println", p)
	return err
}

// demoFactorial runs fact(n, acc) with the recursive call in tail
// position, so the stack stays flat.
func demoFactorial(rt *vm.Runtime) error {
	code, err := rt.Assemble(
		vm.OpN(vm.OpArg, 1), vm.Op(vm.OpUnbox),
		vm.OpN(vm.OpJnz, 3),
		vm.OpN(vm.OpArg, 2), vm.Op(vm.OpUnbox),
		vm.Op(vm.OpRet),
		vm.OpN(vm.OpArg, 0),
		vm.OpN(vm.OpArg, 1), vm.Op(vm.OpUnbox), vm.OpN(vm.OpPush, 1), vm.Op(vm.OpSub), vm.Op(vm.OpBox),
		vm.OpN(vm.OpArg, 2), vm.Op(vm.OpUnbox), vm.OpN(vm.OpArg, 1), vm.Op(vm.OpUnbox), vm.Op(vm.OpMul), vm.Op(vm.OpBox),
		vm.OpN(vm.OpTCall, 2),
	)
	if err != nil {
		return err
	}
	fact, err := rt.NewClosure(code)
	if err != nil {
		return err
	}
	rt.ResetStackHighWater()
	for _, n := range []int64{5, 10, 20} {
		r, err := rt.Call(fact, vm.FromInt(n), vm.FromInt(1))
		if err != nil {
			return err
		}
		fmt.Printf("%d! = %d\n", n, r.Int())
	}
	fmt.Printf("stack high water: %d slots\n", rt.MaxStackDepth())
	return nil
}

func demoPrintln(rt *vm.Runtime) error {
	hello, err := rt.InternString("hello, world")
	if err != nil {
		return err
	}
	pair, err := rt.Cons(vm.FromInt(1), vm.FromInt(2))
	if err != nil {
		return err
	}
	for _, v := range []vm.Value{hello, vm.FromInt(42), vm.Nil, pair} {
		if _, err := rt.Println(v); err != nil {
			return err
		}
	}
	return nil
}
