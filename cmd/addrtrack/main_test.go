package main

import "testing"

func TestSummarizeIDs(t *testing.T) {
	// Output stays bounded however long the id list gets.
	tests := []struct {
		name string
		ids  []int64
		n    int
		want string
	}{
		{"empty", nil, 20, "0 []"},
		{"under limit", []int64{1, 2, 3}, 20, "3 [1 2 3]"},
		{"at limit", []int64{1, 2}, 2, "2 [1 2]"},
		{"over limit", []int64{1, 2, 3, 4, 5}, 2, "5 [1 2] ..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summarizeIDs(tt.ids, tt.n)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
