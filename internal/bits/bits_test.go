package bits

import "testing"

func TestCeilLog2(t *testing.T) {
	cases := []struct {
		x    uint64
		want int
	}{
		{0, 0}, {1, 1}, {2, 2}, {3, 2}, {4, 3}, {7, 3}, {8, 4},
		{22, 5}, {201, 8}, {1 << 40, 41},
	}
	for _, tc := range cases {
		if got := CeilLog2(tc.x); got != tc.want {
			t.Errorf("CeilLog2(%d) = %d, want %d", tc.x, got, tc.want)
		}
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, n := range []int{1, 2, 4, 1024} {
		if !IsPowerOfTwo(n) {
			t.Errorf("IsPowerOfTwo(%d) = false", n)
		}
	}
	for _, n := range []int{0, -2, 3, 6, 1000} {
		if IsPowerOfTwo(n) {
			t.Errorf("IsPowerOfTwo(%d) = true", n)
		}
	}
}
