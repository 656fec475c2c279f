package hdf

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph"
)

// GraphGroup is a group holding graph data: vertex ids in _vertices, edges
// as (num_edges, 2) id pairs in _edges and vertex properties in their own
// groups, one dataset per time step.
type GraphGroup struct {
	*Group
	directed bool
}

// GraphData returns the sorted vertex ids and the edges of g. Undirected
// edges are reported once with the smaller id first.
func GraphData(g graph.Graph) (vertices []int64, edges [][2]int64) {
	for it := g.Nodes(); it.Next(); {
		vertices = append(vertices, it.Node().ID())
	}
	slices.Sort(vertices)
	_, directed := g.(graph.Directed)
	for _, u := range vertices {
		var to []int64
		for it := g.From(u); it.Next(); {
			v := it.Node().ID()
			if directed || u <= v {
				to = append(to, v)
			}
		}
		slices.Sort(to)
		for _, v := range to {
			edges = append(edges, [2]int64{u, v})
		}
	}
	return vertices, edges
}

// OpenGraphGroup opens (or creates) a graph group under parent and marks it
// with is_graph_group and directed.
func OpenGraphGroup(parent *Group, name string, directed bool) (*GraphGroup, error) {
	g, err := parent.OpenGroup(name)
	if err != nil {
		return nil, err
	}
	if err := g.AddAttribute("is_graph_group", true); err != nil {
		return nil, err
	}
	if err := g.AddAttribute("directed", directed); err != nil {
		return nil, err
	}
	return &GraphGroup{Group: g, directed: directed}, nil
}

// SaveGraph writes a static graph into a new graph group.
func SaveGraph(parent *Group, name string, g graph.Graph) (*GraphGroup, error) {
	_, directed := g.(graph.Directed)
	gg, err := OpenGraphGroup(parent, name, directed)
	if err != nil {
		return nil, err
	}
	vertices, edges := GraphData(g)
	if err := gg.writeTopology("_vertices", "_edges", vertices, edges); err != nil {
		return nil, err
	}
	if err := gg.AddAttribute("num_vertices", len(vertices)); err != nil {
		return nil, err
	}
	if err := gg.AddAttribute("num_edges", len(edges)); err != nil {
		return nil, err
	}
	return gg, nil
}

// WriteStep writes the topology of one time step into _vertices/<time> and
// _edges/<time>.
func (gg *GraphGroup) WriteStep(time uint64, g graph.Graph) error {
	vertices, edges := GraphData(g)
	step := fmt.Sprint(time)
	return gg.writeTopology("_vertices/"+step, "_edges/"+step, vertices, edges)
}

func (gg *GraphGroup) writeTopology(vname, ename string, vertices []int64, edges [][2]int64) error {
	vds, err := gg.OpenDataset(vname)
	if err != nil {
		return err
	}
	defer vds.Close()
	if err := vds.AddAttribute("dim_names", []string{"vertex_idx"}); err != nil {
		return err
	}
	if err := Write(vds, vertices); err != nil {
		return err
	}

	eds, err := gg.OpenDataset(ename)
	if err != nil {
		return err
	}
	defer eds.Close()
	if err := eds.SetCapacity([]uint64{Unlimited, 2}); err != nil {
		return err
	}
	if err := eds.AddAttribute("dim_names", []string{"edge_idx", "label"}); err != nil {
		return err
	}
	if err := eds.AddAttribute("coords__label", []string{"source", "target"}); err != nil {
		return err
	}
	flat := make([]int64, 0, 2*len(edges))
	for _, e := range edges {
		flat = append(flat, e[0], e[1])
	}
	return WriteND(eds, flat, []uint64{uint64(len(edges)), 2})
}

// WriteVertexProperty writes one value per vertex into <name>/<time>.
func WriteVertexProperty[T Element](gg *GraphGroup, name string, time uint64, values []T) error {
	ds, err := gg.OpenDataset(fmt.Sprintf("%s/%d", name, time))
	if err != nil {
		return err
	}
	defer ds.Close()
	if err := ds.AddAttribute("is_vertex_property", true); err != nil {
		return err
	}
	if err := ds.AddAttribute("dim_names", []string{"vertex_idx"}); err != nil {
		return err
	}
	return Write(ds, values)
}
