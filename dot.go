package simdb

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
)

// TopologyDOT renders the cluster as a Graphviz digraph:
// machines cluster their processes, edges carry the
// permanent per-pair latency. Handy for eyeballing what a
// partition scenario actually built.
func (s *Simulator) TopologyDOT() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("simdb"); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}

	for _, m := range s.machines.all() {
		cluster := fmt.Sprintf("cluster_%v", m.ZoneID)
		if err := g.AddSubGraph("simdb", cluster, map[string]string{
			"label": fmt.Sprintf("\"zone %v\"", m.ZoneID),
		}); err != nil {
			return "", err
		}
		for _, p := range m.Processes {
			attrs := map[string]string{
				"label": fmt.Sprintf("\"%v\\n%v\"", p.Name, p.Address),
				"shape": "\"box\"",
			}
			if p.Failed {
				attrs["style"] = "\"filled\""
				attrs["fillcolor"] = "\"red\""
			} else if p.Rebooting {
				attrs["style"] = "\"filled\""
				attrs["fillcolor"] = "\"yellow\""
			}
			if err := g.AddNode(cluster, nodeID(p), attrs); err != nil {
				return "", err
			}
		}
	}

	// one edge per ordered IP pair that has made contact.
	ipNode := make(map[uint32]string)
	for _, m := range s.machines.all() {
		for _, p := range m.Processes {
			if _, ok := ipNode[p.Address.IP]; !ok {
				ipNode[p.Address.IP] = nodeID(p)
			}
		}
	}
	for pair, latency := range s.clogging.clogPairLatency.all() {
		from := uint32(pair >> 32)
		to := uint32(pair)
		fn, ok1 := ipNode[from]
		tn, ok2 := ipNode[to]
		if !ok1 || !ok2 {
			continue
		}
		if err := g.AddEdge(fn, tn, true, map[string]string{
			"label": fmt.Sprintf("\"%.1f ms\"", latency*1e3),
		}); err != nil {
			return "", err
		}
	}
	return g.String(), nil
}

func nodeID(p *Process) string {
	return fmt.Sprintf("\"%v\"", p.Name)
}
