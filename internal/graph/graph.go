// Package graph turns a patch catalog into a lattice graph.
package graph

import (
	"fmt"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"armpatch/internal/catalog"
	"armpatch/internal/disasm"
)

// Callees reports the call edges leaving the code of one patch. It is
// consulted for every patch; returning nil adds nothing.
type Callees func(f *catalog.TargetFile, p *catalog.Patch) []disasm.CallEdge

// Build constructs a lattice.Graph from the catalog hierarchy.
// Definitions, versions, files and patches become nodes, each linked to
// its parent. When callees is non-nil, every call edge it reports for a
// patch becomes an edge from the patch to the target.
func Build(cat *catalog.Catalog, callees Callees) *lattice.Graph {
	g := &lattice.Graph{}
	link := func(from, to string) {
		g.Edges = append(g.Edges, lattice.Edge{Caller: from, Callee: to})
	}
	for _, d := range cat.Definitions {
		dn := DefinitionNode(d)
		g.Nodes = append(g.Nodes, dn)
		for _, v := range d.Versions {
			vn := VersionNode(d, v)
			g.Nodes = append(g.Nodes, vn)
			link(dn, vn)
			for _, f := range v.Files {
				fn := FileNode(d, v, f)
				g.Nodes = append(g.Nodes, fn)
				link(vn, fn)
				for _, p := range f.Patches {
					pn := PatchNode(fn, p)
					g.Nodes = append(g.Nodes, pn)
					link(fn, pn)
					if callees == nil {
						continue
					}
					for _, e := range callees(f, p) {
						link(pn, calleeName(e))
					}
				}
			}
		}
	}
	g.Dedup()
	return g
}

// DOT builds and renders the catalog graph.
func DOT(cat *catalog.Catalog, title string, callees Callees) string {
	return Render(Build(cat, callees), title)
}

// Render renders a graph returned by Build.
func Render(g *lattice.Graph, title string) string {
	return render.DOT(g, title)
}

func DefinitionNode(d *catalog.Definition) string { return d.Name }

func VersionNode(d *catalog.Definition, v *catalog.Version) string {
	return d.Name + " / " + v.Description
}

func FileNode(d *catalog.Definition, v *catalog.Version, f *catalog.TargetFile) string {
	return VersionNode(d, v) + " / " + f.Path
}

func PatchNode(file string, p *catalog.Patch) string {
	return fmt.Sprintf("%s @ %s", file, p.Address)
}

func calleeName(e disasm.CallEdge) string {
	if e.TargetName != "" {
		return e.TargetName
	}
	return fmt.Sprintf("sub_%x", e.TargetPC)
}
