package vm

import "testing"

func TestAddr2FuncName(t *testing.T) {
	natives := []NativeFunc{
		{Name: "alloc", Fn: func(th *Thread) {}},
		{Name: "sleep", Fn: func(th *Thread) {}},
		{Name: "log", Fn: func(th *Thread) {}},
	}
	prog := &Program{File: "x.vm", Natives: natives}
	s := NewSymbolizer(prog, 0x1000)

	tt := map[uint64]string{
		0:                         "?",
		0x1000:                    "alloc",
		0x1000 + addrStride:       "sleep",
		0x1000 + 2*addrStride:     "log",
		0x1000 + 2*addrStride + 3: "log", // between log and nothing after -> closest preceding
		0x0FFF:                    "?",   // before the first symbol
	}
	for addr, want := range tt {
		if got := s.Addr2FuncName(addr); got != want {
			t.Errorf("Addr2FuncName(0x%x) = %q, want %q", addr, got, want)
		}
	}
}

func TestNativeAddrRoundTrips(t *testing.T) {
	natives := []NativeFunc{
		{Name: "a", Fn: func(th *Thread) {}},
		{Name: "b", Fn: func(th *Thread) {}},
	}
	prog := &Program{File: "x.vm", Natives: natives}
	s := NewSymbolizer(prog, 0x2000)

	for i, n := range natives {
		addr := s.NativeAddr(i)
		if got := s.Addr2FuncName(addr); got != n.Name {
			t.Errorf("Addr2FuncName(NativeAddr(%d)) = %q, want %q", i, got, n.Name)
		}
	}
}
