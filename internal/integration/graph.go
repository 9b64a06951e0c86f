package integration

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Edge is one retained pair of programs.
type Edge struct {
	Source       GEP     `json:"source"`
	Target       GEP     `json:"target"`
	Weight       float64 `json:"weight"`
	CrossDataset bool    `json:"cross_dataset"`
	SharedGenes  int     `json:"shared_genes"`
}

// threshold keeps every unordered pair with a defined coefficient whose
// magnitude reaches the minimum. Self-pairs are never edges.
func (n *Network) threshold() []Edge {
	p := len(n.geps)
	d := len(n.datasets)
	var edges []Edge
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			r := n.coef[i*p+j]
			if math.IsNaN(r) {
				continue
			}
			if n.minCorr != RetainAll && math.Abs(r) < n.minCorr {
				continue
			}
			a, b := n.gepSet[i], n.gepSet[j]
			edges = append(edges, Edge{
				Source:       n.geps[i],
				Target:       n.geps[j],
				Weight:       r,
				CrossDataset: a != b,
				SharedGenes:  n.shared[a*d+b],
			})
		}
	}
	return edges
}

// Edges returns a copy of the retained edges, ordered by source then target.
func (n *Network) Edges() []Edge { return append([]Edge(nil), n.edges...) }

// Graph builds a fresh weighted graph whose node IDs are matrix positions.
// Every program is a node, including isolated ones.
func (n *Network) Graph() *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := range n.geps {
		g.AddNode(simple.Node(i))
	}
	for _, e := range n.edges {
		g.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(n.Index(e.Source)),
			T: simple.Node(n.Index(e.Target)),
			W: e.Weight,
		})
	}
	return g
}

// Components returns the connected components of the network, largest
// first, each ordered by matrix position.
func (n *Network) Components() [][]GEP {
	cc := topo.ConnectedComponents(n.Graph())
	ids := make([][]int, len(cc))
	for c, nodes := range cc {
		for _, node := range nodes {
			ids[c] = append(ids[c], int(node.ID()))
		}
		sort.Ints(ids[c])
	}
	sort.Slice(ids, func(a, b int) bool {
		if len(ids[a]) != len(ids[b]) {
			return len(ids[a]) > len(ids[b])
		}
		return ids[a][0] < ids[b][0]
	})

	out := make([][]GEP, len(ids))
	for c, members := range ids {
		out[c] = make([]GEP, len(members))
		for i, id := range members {
			out[c][i] = n.geps[id]
		}
	}
	return out
}
