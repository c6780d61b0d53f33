package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponents(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		edges []Edge
		want  [][]int
	}{
		{"no edges", 3, nil, [][]int{}},
		{"pair", 3, []Edge{{A: 0, B: 2}}, [][]int{{0, 2}}},
		{"transitive chain", 4, []Edge{{A: 0, B: 1}, {A: 1, B: 2}}, [][]int{{0, 1, 2}}},
		{"two clusters", 6, []Edge{{A: 4, B: 5}, {A: 0, B: 3}, {A: 3, B: 1}}, [][]int{{0, 1, 3}, {4, 5}}},
		{"duplicate edges", 2, []Edge{{A: 0, B: 1}, {A: 1, B: 0}}, [][]int{{0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Components(tt.n, tt.edges))
		})
	}
}

func TestComponents_OrderInsensitive(t *testing.T) {
	a := Components(5, []Edge{{A: 0, B: 1}, {A: 3, B: 4}, {A: 1, B: 3}})
	b := Components(5, []Edge{{A: 1, B: 3}, {A: 4, B: 3}, {A: 1, B: 0}})
	assert.Equal(t, a, b)
	assert.Equal(t, [][]int{{0, 1, 3, 4}}, a)
}
