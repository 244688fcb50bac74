package topo

import "sort"

// Result is the outcome of a Partition call.
type Result struct {
	// SystemCount is S, the number of logical processes the partition
	// produced.
	SystemCount uint32

	// Threshold is the minimum-lookahead cut threshold actually used —
	// either the caller's configured value, or the derived median when
	// the caller passed zero (PartitionHost raises a zero result to 1).
	Threshold uint64

	// Lookahead maps each produced system id to the minimum delay it is
	// guaranteed on every cross-LP link it owns, keyed by the remote
	// system id.
	Lookahead map[uint32]map[uint32]uint64
}

// Partition runs the BFS auto-partitioner over g: starting from an
// unvisited node, it flood-fills through every link except point-to-point
// links whose delay is at or above minLookahead (0 meaning "derive the
// median of all point-to-point link delays"), assigning a fresh system id
// to each connected component it discovers. Node ids are visited in
// ascending order so the partition is deterministic for a fixed graph.
// Assigned ids start at 1, not 0: a SimulatorFacade in multithreaded mode
// feeds these straight into mtexec.Executor.AddSystem, whose system id 0
// is permanently reserved for the public LP.
func Partition(g *Graph, minLookahead uint64) Result {
	threshold := minLookahead
	if threshold == 0 {
		threshold = medianDelay(g.PointToPointDelays())
	}

	ids := sortedNodeIDs(g)
	visited := make(map[uint32]bool, len(ids))
	var nextSystemID uint32

	lookahead := make(map[uint32]map[uint32]uint64)

	for _, id := range ids {
		if visited[id] {
			continue
		}

		systemID := nextSystemID + 1
		nextSystemID++

		component := bfsComponent(g, id, threshold, visited)
		for _, member := range component {
			g.SetSystemID(member, systemID)
		}
	}

	// A second pass computes each system's lookahead to every other
	// system it has a surviving (cut) point-to-point link toward, now
	// that every node carries its final system id.
	for _, l := range g.Links {
		if !l.PointToPoint || l.DelayPS < threshold {
			continue
		}
		na, _ := g.Node(l.A)
		nb, _ := g.Node(l.B)
		if na.SystemID == nb.SystemID {
			continue
		}
		recordLookahead(lookahead, na.SystemID, nb.SystemID, l.DelayPS)
		recordLookahead(lookahead, nb.SystemID, na.SystemID, l.DelayPS)
	}

	return Result{
		SystemCount: nextSystemID,
		Threshold:   threshold,
		Lookahead:   lookahead,
	}
}

// PartitionHost runs the same BFS, restricted to nodes whose HostRank
// equals rank, and encodes each resulting system id as
// ((localLPID+1)<<16 | rank), matching the hybrid system-id encoding in
// spec.md section 4.3 and section 6. Local LP ids are offset by one so
// that rank 0's first partition never collides with mtexec's reserved
// system id 0 (its always-present public LP) once HybridExecutor adds
// these LPs to a shared multithreaded executor. The minimum lookahead
// for inter-host cuts is floored at 1 so host-to-host dependencies
// always advance the granted window, per spec.md section 4.6.
func PartitionHost(g *Graph, rank uint32, minLookahead uint64) Result {
	if minLookahead == 0 {
		minLookahead = medianDelay(ptpDelaysForRank(g, rank))
	}
	if minLookahead == 0 {
		minLookahead = 1
	}

	ids := sortedNodeIDsForRank(g, rank)
	visited := make(map[uint32]bool, len(ids))
	var nextLocalID uint32

	lookahead := make(map[uint32]map[uint32]uint64)

	for _, id := range ids {
		if visited[id] {
			continue
		}

		localID := nextLocalID
		nextLocalID++
		systemID := ((localID + 1) << 16) | rank

		component := bfsComponentWithinRank(g, id, rank, minLookahead, visited)
		for _, member := range component {
			g.SetSystemID(member, systemID)
		}
	}

	// Only intra-host links yield a resolvable remote system id here: a
	// link crossing to another host's node can't be attributed a system
	// id by this host's partition pass alone (that host partitions its
	// own nodes independently), so cross-host links get no per-LP
	// lookahead entry; across hosts the distributed LBTS window bounds
	// progress instead.
	for _, l := range g.Links {
		na, aok := g.Node(l.A)
		nb, bok := g.Node(l.B)
		if !aok || !bok || na.HostRank != rank || nb.HostRank != rank {
			continue
		}
		if !l.PointToPoint || l.DelayPS < minLookahead {
			continue
		}
		if na.SystemID == nb.SystemID {
			continue
		}
		recordLookahead(lookahead, na.SystemID, nb.SystemID, l.DelayPS)
		recordLookahead(lookahead, nb.SystemID, na.SystemID, l.DelayPS)
	}

	return Result{
		SystemCount: nextLocalID,
		Threshold:   minLookahead,
		Lookahead:   lookahead,
	}
}

// HostRankOf extracts the host rank encoded into a hybrid system id, per
// the ((localLPID+1)<<16 | rank) encoding.
func HostRankOf(systemID uint32) uint32 {
	return systemID & 0xFFFF
}

// LocalLPIDOf extracts the 1-based local LP id encoded into a hybrid
// system id (1 for the first LP PartitionHost produced on its host, 2
// for the second, and so on).
func LocalLPIDOf(systemID uint32) uint32 {
	return systemID >> 16
}

func recordLookahead(m map[uint32]map[uint32]uint64, from, to uint32, delay uint64) {
	peers, ok := m[from]
	if !ok {
		peers = make(map[uint32]uint64)
		m[from] = peers
	}
	if cur, ok := peers[to]; !ok || delay < cur {
		peers[to] = delay
	}
}

func bfsComponent(
	g *Graph,
	start uint32,
	threshold uint64,
	visited map[uint32]bool,
) []uint32 {
	queue := []uint32{start}
	visited[start] = true
	var component []uint32

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		component = append(component, id)

		for _, l := range g.LinksOf(id) {
			if l.PointToPoint && l.DelayPS >= threshold {
				continue // cut edge
			}
			other := l.Other(id)
			if !visited[other] {
				visited[other] = true
				queue = append(queue, other)
			}
		}
	}

	return component
}

func bfsComponentWithinRank(
	g *Graph,
	start uint32,
	rank uint32,
	threshold uint64,
	visited map[uint32]bool,
) []uint32 {
	queue := []uint32{start}
	visited[start] = true
	var component []uint32

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		component = append(component, id)

		for _, l := range g.LinksOf(id) {
			if l.PointToPoint && l.DelayPS >= threshold {
				continue
			}
			other := l.Other(id)
			n, ok := g.Node(other)
			if !ok || n.HostRank != rank {
				continue
			}
			if !visited[other] {
				visited[other] = true
				queue = append(queue, other)
			}
		}
	}

	return component
}

func sortedNodeIDs(g *Graph) []uint32 {
	ids := make([]uint32, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedNodeIDsForRank(g *Graph, rank uint32) []uint32 {
	var ids []uint32
	for _, n := range g.Nodes {
		if n.HostRank == rank {
			ids = append(ids, n.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func ptpDelaysForRank(g *Graph, rank uint32) []uint64 {
	var delays []uint64
	for _, l := range g.Links {
		if !l.PointToPoint {
			continue
		}
		na, aok := g.Node(l.A)
		nb, bok := g.Node(l.B)
		if aok && na.HostRank == rank && bok && nb.HostRank == rank {
			delays = append(delays, l.DelayPS)
		}
	}
	return delays
}

// medianDelay returns the median of delays, or 0 if delays is empty,
// matching spec.md section 4.3's "empty => 0" rule for the auto threshold.
func medianDelay(delays []uint64) uint64 {
	if len(delays) == 0 {
		return 0
	}

	sorted := append([]uint64(nil), delays...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
