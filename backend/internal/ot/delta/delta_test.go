package delta

import "testing"

func TestTransformPosition_Insert(t *testing.T) {
	d := Delta{
		{Kind: KindRetain, Count: 5},
		{Kind: KindInsert, Text: "abc"},
	}
	cases := []struct {
		pos        int
		stickRight bool
		want       int
	}{
		{pos: 2, want: 2},
		{pos: 5, stickRight: false, want: 5},
		{pos: 5, stickRight: true, want: 8},
		{pos: 7, want: 10},
	}
	for _, tc := range cases {
		if got := d.TransformPosition(tc.pos, tc.stickRight); got != tc.want {
			t.Fatalf("TransformPosition(%d, %v) = %d, want %d", tc.pos, tc.stickRight, got, tc.want)
		}
	}
}

func TestTransformPosition_Delete(t *testing.T) {
	// "Hello collaborative world" 删掉 " collaborative"
	d := Delta{
		{Kind: KindRetain, Count: 5},
		{Kind: KindDelete, Count: 14},
	}
	cases := []struct{ pos, want int }{
		{pos: 3, want: 3},
		{pos: 5, want: 5},
		{pos: 10, want: 5},
		{pos: 19, want: 5},
		{pos: 22, want: 8},
	}
	for _, tc := range cases {
		if got := d.TransformPosition(tc.pos, false); got != tc.want {
			t.Fatalf("TransformPosition(%d) = %d, want %d", tc.pos, got, tc.want)
		}
	}
}

func TestTransformPosition_MultiByteInsert(t *testing.T) {
	d := Delta{{Kind: KindInsert, Text: "你好"}}
	if got := d.TransformPosition(0, true); got != 2 {
		t.Fatalf("TransformPosition(0, true) = %d, want 2", got)
	}
}

func TestValidate(t *testing.T) {
	if !(Delta{{Kind: KindRetain, Count: 1}, {Kind: KindInsert, Text: "x"}}).Validate() {
		t.Fatalf("Validate() = false, want true")
	}
	if (Delta{{Kind: KindInsert}}).Validate() {
		t.Fatalf("Validate() on empty insert = true, want false")
	}
	if (Delta{{Kind: "replace", Count: 1}}).Validate() {
		t.Fatalf("Validate() on unknown kind = true, want false")
	}
}
