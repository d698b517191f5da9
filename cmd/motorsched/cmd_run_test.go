package main

import "testing"

func TestSplitMove(t *testing.T) {
	t.Parallel()
	tm, d, s, err := splitMove(" 07:30, cw ,1000")
	if err != nil || tm != "07:30" || d != "cw" || s != "1000" {
		t.Fatalf("splitMove = (%q, %q, %q, %v)", tm, d, s, err)
	}
	for _, bad := range []string{"", "07:30", "07:30,cw", "07:30,cw,1,2"} {
		if _, _, _, err := splitMove(bad); err == nil {
			t.Fatalf("splitMove(%q) succeeded", bad)
		}
	}
}
