package xclimit_test

import (
	"fmt"
	"log/slog"

	"github.com/omeyang/climit/pkg/storage/xclimit"
)

type pipeline struct {
	name string
}

func (p *pipeline) Close() error {
	fmt.Println("release", p.name)
	return nil
}

func Example() {
	l, err := xclimit.New(1, xclimit.WithLogger[*pipeline](slog.New(slog.DiscardHandler)))
	if err != nil {
		panic(err)
	}
	defer l.Close()

	var blur, glow xclimit.Handle[*pipeline]

	g, err := blur.Acquire(l, func() (*pipeline, error) {
		fmt.Println("build blur")
		return &pipeline{name: "blur"}, nil
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("draw", g.Get().name)
	_ = g.Release()

	// 容量为 1：构建 glow 会淘汰已释放的 blur
	g, err = glow.Acquire(l, func() (*pipeline, error) {
		fmt.Println("build glow")
		return &pipeline{name: "glow"}, nil
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("draw", g.Get().name)
	_ = g.Release()
	// Output:
	// build blur
	// draw blur
	// build glow
	// release blur
	// draw glow
	// release glow
}

func ExampleKeyed() {
	l, err := xclimit.New[string](8)
	if err != nil {
		panic(err)
	}
	defer l.Close()

	k, err := xclimit.NewKeyed[int](l)
	if err != nil {
		panic(err)
	}
	build := func(n int) (string, error) {
		fmt.Println("build", n)
		return fmt.Sprintf("variant-%d", n), nil
	}

	for _, key := range []int{1, 2, 1} {
		g, err := k.Acquire(key, build)
		if err != nil {
			panic(err)
		}
		fmt.Println(g.Get())
		_ = g.Release()
	}
	fmt.Println(l.Stats().Hits)
	// Output:
	// build 1
	// variant-1
	// build 2
	// variant-2
	// variant-1
	// 1
}

func ExampleGuard_Clone() {
	l, err := xclimit.New[string](0)
	if err != nil {
		panic(err)
	}
	defer l.Close()

	var h xclimit.Handle[string]
	g, err := h.Acquire(l, func() (string, error) { return "atlas", nil })
	if err != nil {
		panic(err)
	}
	c, err := g.Clone()
	if err != nil {
		panic(err)
	}
	_ = g.Release()
	fmt.Println(c.Get(), l.Len())
	_ = c.Release()
	fmt.Println(l.Len())
	// Output:
	// atlas 1
	// 0
}
