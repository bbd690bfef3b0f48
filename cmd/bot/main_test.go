package main

import "testing"

func TestSquarePoint(t *testing.T) {
	cases := []struct {
		step, side int
		dx, dz     int
	}{
		{0, 4, 0, 0},
		{3, 4, 3, 0},
		{4, 4, 4, 0},
		{6, 4, 4, 2},
		{8, 4, 4, 4},
		{10, 4, 2, 4},
		{12, 4, 0, 4},
		{15, 4, 0, 1},
		{5, 0, 0, 0},
	}
	for _, tc := range cases {
		dx, dz := squarePoint(tc.step, tc.side)
		if dx != tc.dx || dz != tc.dz {
			t.Fatalf("squarePoint(%d,%d)=(%d,%d) want (%d,%d)", tc.step, tc.side, dx, dz, tc.dx, tc.dz)
		}
	}
}
