package itinerary

import (
	"sort"
	"sync"

	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
)

// ActivityByID finds an activity by its stable (userData) id.
func (it *Itinerary) ActivityByID(id string) (*Activity, bool) {
	for i := range it.Activities {
		if it.Activities[i].UserData.ID == id && !it.Activities[i].IsConnection() {
			return &it.Activities[i], true
		}
	}
	return nil, false
}

// ActivityByGraphID finds an activity by the id connections refer to.
func (it *Itinerary) ActivityByGraphID(id string) (*Activity, bool) {
	for i := range it.Activities {
		if it.Activities[i].ID == id && !it.Activities[i].IsConnection() {
			return &it.Activities[i], true
		}
	}
	return nil, false
}

// Edges returns every connection, including connections the designer stored
// inline in the activity list.
func (it *Itinerary) Edges() []Connection {
	edges := make([]Connection, 0, len(it.Connections))
	for _, c := range it.Connections {
		if IsConnectionType(c.Type) || c.Type == "" {
			edges = append(edges, c)
		}
	}
	for _, a := range it.Activities {
		if a.IsConnection() && a.Source != nil && a.Target != nil {
			edges = append(edges, Connection{Type: a.Type, Source: *a.Source, Target: *a.Target})
		}
	}
	return edges
}

// Targets returns the activities reachable over one outgoing edge from the
// activity with the given stable id. Each target is returned once even when
// several edges lead to it, and a self loop is dropped; longer cycles are
// bounded by the router's hop limit.
func (it *Itinerary) Targets(activityID string) ([]*Activity, error) {
	source, ok := it.ActivityByID(activityID)
	if !ok {
		return nil, errspkg.ErrActivityNotFound
	}

	visited := map[string]struct{}{source.ID: {}}
	var targets []*Activity
	for _, edge := range it.Edges() {
		if edge.Source.Node != source.ID {
			continue
		}
		if _, seen := visited[edge.Target.Node]; seen {
			continue
		}
		visited[edge.Target.Node] = struct{}{}
		if target, ok := it.ActivityByGraphID(edge.Target.Node); ok {
			targets = append(targets, target)
		}
	}
	return targets, nil
}

// Selection is an activity chosen to run on a node.
type Selection struct {
	Itinerary *Itinerary
	Activity  Activity
	// Claimed is set when the activity was selected by tag and its host
	// rewritten to the node.
	Claimed bool
}

// SelectForNode picks the activities that belong on node: those whose host
// list includes the node, and receive adapters whose host names one of the
// node's tags. Claimed adapters get their host rewritten to node.
func (it *Itinerary) SelectForNode(node string, hasTag func(tags ...string) bool) []Selection {
	var out []Selection
	for _, a := range it.Activities {
		if a.IsConnection() || a.UserData.Config == nil {
			continue
		}
		host, err := a.Host()
		if err != nil {
			continue
		}
		if HostIncludes(host, node) {
			out = append(out, Selection{Itinerary: it, Activity: a})
			continue
		}
		if hasTag != nil && a.IsReceiveAdapter() && hasTag(HostList(host)...) {
			out = append(out, Selection{Itinerary: it, Activity: a.WithHost(node), Claimed: true})
		}
	}
	return out
}

// Set is the node's collection of installed itineraries.
type Set struct {
	mu    sync.RWMutex
	items map[string]Itinerary
}

// NewSet builds a set from a list; later duplicates replace earlier ones.
func NewSet(items ...Itinerary) *Set {
	s := &Set{items: make(map[string]Itinerary, len(items))}
	for _, it := range items {
		s.items[it.ItineraryID] = it
	}
	return s
}

// Replace installs the full itinerary list, dropping anything not in it.
func (s *Set) Replace(items []Itinerary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]Itinerary, len(items))
	for _, it := range items {
		s.items[it.ItineraryID] = it
	}
}

// Upsert replaces the itinerary with the same id, or adds it.
func (s *Set) Upsert(it Itinerary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[it.ItineraryID] = it
}

// Get returns a copy of one itinerary.
func (s *Set) Get(id string) (*Itinerary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return &it, true
}

// All returns copies of every itinerary ordered by id.
func (s *Set) All() []*Itinerary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Itinerary, 0, len(s.items))
	for _, it := range s.items {
		it := it
		out = append(out, &it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItineraryID < out[j].ItineraryID })
	return out
}

// Len returns the number of itineraries.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
