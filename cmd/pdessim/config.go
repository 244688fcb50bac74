package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/parallax/mtexec"
	"github.com/sarchlab/parallax/topo"
)

// fileConfig is the on-disk shape cmd/pdessim loads a topology and
// kernel.Config out of. It mirrors kernel.Config's fields directly rather
// than introducing a parallel vocabulary, per spec.md section 6.
type fileConfig struct {
	MaxThreads                int            `yaml:"max_threads"`
	MinLookahead              uint64         `yaml:"min_lookahead_ps"`
	PartitionSchedulingMethod string         `yaml:"partition_scheduling_method"`
	PartitionSchedulingPeriod int            `yaml:"partition_scheduling_period"`
	SimulatorImpl             string         `yaml:"simulator_impl"`
	TimeResolutionPS          uint64         `yaml:"time_resolution_ps"`
	RNGSeed                   uint32         `yaml:"rng_seed"`
	Topology                  topologyConfig `yaml:"topology"`
}

type topologyConfig struct {
	Nodes []nodeConfig `yaml:"nodes"`
	Links []linkConfig `yaml:"links"`
}

type nodeConfig struct {
	ID       uint32 `yaml:"id"`
	HostRank uint32 `yaml:"host_rank"`
}

type linkConfig struct {
	A            uint32 `yaml:"a"`
	B            uint32 `yaml:"b"`
	DelayPS      uint64 `yaml:"delay_ps"`
	PointToPoint bool   `yaml:"point_to_point"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &fc, nil
}

func (fc *fileConfig) graph() *topo.Graph {
	g := topo.NewGraph()
	for _, n := range fc.Topology.Nodes {
		g.AddNode(topo.Node{ID: n.ID, HostRank: n.HostRank})
	}
	for _, l := range fc.Topology.Links {
		g.AddLink(topo.Link{A: l.A, B: l.B, DelayPS: l.DelayPS, PointToPoint: l.PointToPoint})
	}
	return g
}

func (fc *fileConfig) schedulingMethod() (mtexec.SchedulingMethod, error) {
	switch fc.PartitionSchedulingMethod {
	case "", "by_execution_time":
		return mtexec.ByExecutionTime, nil
	case "by_pending_event_count":
		return mtexec.ByPendingEventCount, nil
	case "by_event_count":
		return mtexec.ByEventCount, nil
	case "by_simulation_time":
		return mtexec.BySimulationTime, nil
	default:
		return 0, fmt.Errorf("unknown partition_scheduling_method %q", fc.PartitionSchedulingMethod)
	}
}
