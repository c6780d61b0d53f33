package dedup

import "sort"

// Edge links two items that matched on at least one signal.
type Edge struct {
	A, B     int
	Title    float64
	Content  float64
	Entities float64
}

// unionFind is a disjoint-set forest with path halving and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
}

// Components groups n nodes by the edges between them. Only components with
// two or more members are returned. Members are sorted ascending and
// components are ordered by their smallest member, so the output does not
// depend on edge order.
func Components(n int, edges []Edge) [][]int {
	uf := newUnionFind(n)
	for _, e := range edges {
		uf.union(e.A, e.B)
	}

	groups := make(map[int][]int)
	for i := range n {
		r := uf.find(i)
		groups[r] = append(groups[r], i)
	}

	out := make([][]int, 0, len(groups))
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		sort.Ints(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
