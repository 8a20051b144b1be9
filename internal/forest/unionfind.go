package forest

// UnionFind implements union-find over rule ids with path compression and union by rank
type UnionFind struct {
	parent map[int]int
	rank   map[int]int
}

// NewUnionFind creates a new UnionFind where each id is its own component
func NewUnionFind(ids []int) *UnionFind {
	uf := &UnionFind{
		parent: make(map[int]int, len(ids)),
		rank:   make(map[int]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

// Find returns the representative of the component containing id
func (uf *UnionFind) Find(id int) int {
	root := id
	for {
		p, ok := uf.parent[root]
		if !ok || p == root {
			break
		}
		root = p
	}
	// compress
	for id != root {
		next, ok := uf.parent[id]
		if !ok {
			break
		}
		uf.parent[id] = root
		id = next
	}
	return root
}

// Union merges the components containing a and b. Returns false if they were already joined.
func (uf *UnionFind) Union(a, b int) bool {
	rootA := uf.Find(a)
	rootB := uf.Find(b)
	if rootA == rootB {
		return false
	}
	if _, ok := uf.parent[rootA]; !ok {
		uf.parent[rootA] = rootA
	}
	if _, ok := uf.parent[rootB]; !ok {
		uf.parent[rootB] = rootB
	}

	rankA := uf.rank[rootA]
	rankB := uf.rank[rootB]
	switch {
	case rankA < rankB:
		uf.parent[rootA] = rootB
	case rankA > rankB:
		uf.parent[rootB] = rootA
	default:
		uf.parent[rootB] = rootA
		uf.rank[rootA]++
	}
	return true
}
