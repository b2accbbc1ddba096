package aggr

import (
	"testing"
)

func TestDescriptorStates(t *testing.T) {
	update := func(s State, vals ...float64) State {
		for _, v := range vals {
			s.Update(v)
		}
		return s
	}

	t.Run("sum", func(t *testing.T) {
		desc, _ := DescriptorFor(Sum)
		s := update(desc.NewState(), 1, 2, 3)
		if v, ok := s.Finalize(); !ok || v != 6 {
			t.Fatalf("expected (6, true), got (%v, %v)", v, ok)
		}
	})

	t.Run("avg", func(t *testing.T) {
		desc, _ := DescriptorFor(Avg)
		s := update(desc.NewState(), 2, 4)
		if v, ok := s.Finalize(); !ok || v != 3 {
			t.Fatalf("expected (3, true), got (%v, %v)", v, ok)
		}
	})

	t.Run("count of nothing is zero, not null", func(t *testing.T) {
		desc, _ := DescriptorFor(Count)
		if v, ok := desc.NewState().Finalize(); !ok || v != 0 {
			t.Fatalf("expected (0, true), got (%v, %v)", v, ok)
		}
	})

	t.Run("sum of nothing is null", func(t *testing.T) {
		desc, _ := DescriptorFor(Sum)
		if _, ok := desc.NewState().Finalize(); ok {
			t.Fatal("sum over no input must be invalid")
		}
	})

	t.Run("combine is consistent with update", func(t *testing.T) {
		for _, fn := range []AggrFunc{Min, Max, Count, Sum, Avg} {
			desc, err := DescriptorFor(fn)
			if err != nil {
				t.Fatal(err)
			}
			left := update(desc.NewState(), 5, 1)
			right := update(desc.NewState(), 9, 2)
			left.Combine(right)

			whole := update(desc.NewState(), 5, 1, 9, 2)
			lv, lok := left.Finalize()
			wv, wok := whole.Finalize()
			if lv != wv || lok != wok {
				t.Fatalf("%s: combine(%v,%v) != update-all (%v,%v)", fn, lv, lok, wv, wok)
			}
		}
	})

	t.Run("combine with an empty state is a no-op", func(t *testing.T) {
		for _, fn := range []AggrFunc{Min, Max, Sum, Avg} {
			desc, _ := DescriptorFor(fn)
			s := update(desc.NewState(), 7)
			s.Combine(desc.NewState())
			if v, ok := s.Finalize(); !ok || v != 7 {
				t.Fatalf("%s: combining empty state changed the result: (%v,%v)", fn, v, ok)
			}
		}
	})

	t.Run("unknown function is rejected", func(t *testing.T) {
		if _, err := DescriptorFor(AggrFunc(99)); err == nil {
			t.Fatal("expected an error for an unknown aggregate")
		}
	})
}
