// Copyright © 2024 the windroute authors.
// This file is part of windroute.

// Package route implements the wind-aware Dijkstra router (C7) and the
// distance-only naïve A* router (C8) over a precomputed lattice.
package route

import (
	"container/heap"

	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/windroute/internal/cost"
	"github.com/spatialmodel/windroute/internal/geom3"
	"github.com/spatialmodel/windroute/internal/lattice"
)

// DefaultCaptureInterval is the default number of pops between exploration
// frame captures (§4.7).
const DefaultCaptureInterval = 50

// ExplorationFrame is a snapshot of search state captured during
// pathfinding (§GLOSSARY).
type ExplorationFrame struct {
	Step            int
	CurrentID       uint32
	CurrentPosition geom3.Vector3
	VisitedIDs      []uint32
	FrontierIDs     []uint32
	CurrentBestPath []uint32
	CurrentCost     float64
}

// Result is the outcome of a routing query (§3 PathResult).
type Result struct {
	Success       bool
	Waypoints     []geom3.Vector3
	NodeIDs       []uint32
	TotalCost     float64
	NodesExplored int
	Frames        []ExplorationFrame
}

// Option configures a router.
type Option func(*options)

type options struct {
	captureInterval int
	log             logrus.FieldLogger
}

// WithCaptureInterval overrides DefaultCaptureInterval (Dijkstra only).
func WithCaptureInterval(n int) Option {
	return func(o *options) { o.captureInterval = n }
}

// WithLogger attaches a logger; default is logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(opts []Option) *options {
	o := &options{captureInterval: DefaultCaptureInterval, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// nodeItem is one priority-queue entry. Ordering is (primary, secondary,
// id): id breaks exact ties for determinism (§4.7, §4.8).
type nodeItem struct {
	primary   float64
	secondary float64
	id        uint32
}

type nodePQ []nodeItem

func (pq nodePQ) Len() int { return len(pq) }
func (pq nodePQ) Less(i, j int) bool {
	if pq[i].primary != pq[j].primary {
		return pq[i].primary < pq[j].primary
	}
	if pq[i].secondary != pq[j].secondary {
		return pq[i].secondary < pq[j].secondary
	}
	return pq[i].id < pq[j].id
}
func (pq nodePQ) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }
func (pq *nodePQ) Push(x interface{}) {
	*pq = append(*pq, x.(nodeItem))
}
func (pq *nodePQ) Pop() interface{} {
	old := *pq
	n := len(old)
	it := old[n-1]
	*pq = old[:n-1]
	return it
}

// reconstructPath walks predecessor links from id back to the source.
func reconstructPath(predecessor map[uint32]uint32, source, id uint32) []uint32 {
	var path []uint32
	for cur := id; ; {
		path = append([]uint32{cur}, path...)
		if cur == source {
			break
		}
		prev, ok := predecessor[cur]
		if !ok {
			break
		}
		cur = prev
	}
	return path
}

func idsToWaypoints(g *lattice.Grid3D, ids []uint32) []geom3.Vector3 {
	wps := make([]geom3.Vector3, len(ids))
	for i, id := range ids {
		wps[i] = g.Node(id).Position
	}
	return wps
}

// Dijkstra runs classical uniform-cost search over table from start to end,
// snapping both to valid lattice nodes first (§4.7). The first and last
// waypoint of a successful result are overridden with the caller's exact
// start/end positions (Testable Property 6).
func Dijkstra(g *lattice.Grid3D, table *cost.EdgeCostTable, start, end geom3.Vector3, capture bool, opts ...Option) Result {
	o := buildOptions(opts)

	startNode := g.NodeAtPosition(start, true)
	endNode := g.NodeAtPosition(end, true)
	if !startNode.Valid || !endNode.Valid {
		return Result{Success: false}
	}

	dist := map[uint32]float64{startNode.ID: 0}
	predecessor := make(map[uint32]uint32)
	visited := make(map[uint32]bool)
	frontier := make(map[uint32]bool)

	pq := &nodePQ{}
	heap.Init(pq)
	heap.Push(pq, nodeItem{primary: 0, id: startNode.ID})
	frontier[startNode.ID] = true

	var frames []ExplorationFrame
	step := 0
	nodesExplored := 0

	captureFrame := func(current uint32) {
		if !capture {
			return
		}
		visitedIDs := make([]uint32, 0, len(visited))
		for id := range visited {
			visitedIDs = append(visitedIDs, id)
		}
		frontierIDs := make([]uint32, 0, len(frontier))
		for id := range frontier {
			frontierIDs = append(frontierIDs, id)
		}
		frames = append(frames, ExplorationFrame{
			Step:            step,
			CurrentID:       current,
			CurrentPosition: g.Node(current).Position,
			VisitedIDs:      visitedIDs,
			FrontierIDs:     frontierIDs,
			CurrentBestPath: reconstructPath(predecessor, startNode.ID, current),
			CurrentCost:     dist[current],
		})
	}

	for pq.Len() > 0 {
		item := heap.Pop(pq).(nodeItem)
		u := item.id
		if visited[u] {
			continue
		}
		visited[u] = true
		delete(frontier, u)
		nodesExplored++
		step++

		if step%o.captureInterval == 0 {
			captureFrame(u)
		}

		if u == endNode.ID {
			captureFrame(u)
			ids := reconstructPath(predecessor, startNode.ID, u)
			wps := idsToWaypoints(g, ids)
			wps[0] = start
			wps[len(wps)-1] = end
			return Result{
				Success:       true,
				Waypoints:     wps,
				NodeIDs:       ids,
				TotalCost:     dist[u],
				NodesExplored: nodesExplored,
				Frames:        frames,
			}
		}

		for _, e := range table.Neighbors(u) {
			if visited[e.to] {
				continue
			}
			nd := dist[u] + e.cost
			if cur, ok := dist[e.to]; !ok || nd < cur {
				dist[e.to] = nd
				predecessor[e.to] = u
				heap.Push(pq, nodeItem{primary: nd, id: e.to})
				frontier[e.to] = true
			}
		}
	}

	o.log.WithField("nodes_explored", nodesExplored).Debug("route: dijkstra exhausted queue without reaching goal")
	return Result{Success: false, NodesExplored: nodesExplored, Frames: frames}
}

// AStar runs A* over set from start to end using Euclidean g/h costs
// (§4.8). Snap, reconstruction, and exact-endpoint override rules are
// identical to Dijkstra.
func AStar(g *lattice.Grid3D, set *cost.ValidEdgeSet, start, end geom3.Vector3, opts ...Option) Result {
	o := buildOptions(opts)

	startNode := g.NodeAtPosition(start, true)
	endNode := g.NodeAtPosition(end, true)
	if !startNode.Valid || !endNode.Valid {
		return Result{Success: false}
	}

	gScore := map[uint32]float64{startNode.ID: 0}
	predecessor := make(map[uint32]uint32)
	visited := make(map[uint32]bool)

	h := func(id uint32) float64 { return g.Node(id).Position.Distance(end) }

	pq := &nodePQ{}
	heap.Init(pq)
	heap.Push(pq, nodeItem{primary: h(startNode.ID), secondary: 0, id: startNode.ID})

	nodesExplored := 0

	for pq.Len() > 0 {
		item := heap.Pop(pq).(nodeItem)
		u := item.id
		if visited[u] {
			continue
		}
		visited[u] = true
		nodesExplored++

		if u == endNode.ID {
			ids := reconstructPath(predecessor, startNode.ID, u)
			wps := idsToWaypoints(g, ids)
			wps[0] = start
			wps[len(wps)-1] = end
			return Result{
				Success:       true,
				Waypoints:     wps,
				NodeIDs:       ids,
				TotalCost:     gScore[u],
				NodesExplored: nodesExplored,
			}
		}

		for _, v := range set.Neighbors(u) {
			if visited[v] {
				continue
			}
			tentative := gScore[u] + g.Node(u).Position.Distance(g.Node(v).Position)
			if cur, ok := gScore[v]; !ok || tentative < cur {
				gScore[v] = tentative
				predecessor[v] = u
				heap.Push(pq, nodeItem{primary: tentative + h(v), secondary: tentative, id: v})
			}
		}
	}

	o.log.WithField("nodes_explored", nodesExplored).Debug("route: astar exhausted queue without reaching goal")
	return Result{Success: false, NodesExplored: nodesExplored}
}
