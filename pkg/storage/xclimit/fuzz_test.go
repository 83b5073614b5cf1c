package xclimit

import (
	"testing"
)

// FuzzLimiter 以字节序列驱动 Acquire、Release、SetCapacity 的任意交错，
// 检查被持有的资源永不被销毁，且命中返回的总是本 Handle 构建的资源。
func FuzzLimiter(f *testing.F) {
	f.Add([]byte{0, 1, 2, 3, 4, 5})
	f.Add([]byte{0x10, 0x11, 0x12, 0x80, 0x81, 0xC0, 0x13})
	f.Add([]byte{0xC0, 0x00, 0x80, 0xC3, 0x01, 0x02})

	f.Fuzz(func(t *testing.T, ops []byte) {
		l, err := New(2, WithLogger[*resource](quiet))
		if err != nil {
			t.Fatal(err)
		}
		handles := make([]Handle[*resource], 8)
		var held []*Guard[*resource]

		for _, op := range ops {
			arg := int(op & 0x3F)
			switch op >> 6 {
			case 0, 1:
				i := arg % len(handles)
				g, err := handles[i].Acquire(l, fixed(i))
				if err != nil {
					t.Fatal(err)
				}
				if g.Get().value != i {
					t.Fatalf("handle %d got resource %d", i, g.Get().value)
				}
				held = append(held, g)
			case 2:
				if len(held) == 0 {
					continue
				}
				j := arg % len(held)
				if err := held[j].Release(); err != nil {
					t.Fatal(err)
				}
				held = append(held[:j], held[j+1:]...)
			case 3:
				if err := l.SetCapacity(arg % 4); err != nil {
					t.Fatal(err)
				}
			}

			for _, g := range held {
				if g.Get().closed.Load() {
					t.Fatal("held resource was disposed")
				}
			}
			if l.InUse() > len(held) {
				t.Fatalf("in use %d exceeds held guards %d", l.InUse(), len(held))
			}
		}

		for _, g := range held {
			if err := g.Release(); err != nil {
				t.Fatal(err)
			}
		}
		if err := l.Close(); err != nil {
			t.Fatal(err)
		}
	})
}
