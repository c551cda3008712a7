package graph

import (
	"fmt"
	"sync"

	"beacon-server/internal/apperr"
)

type VertexKind string

const (
	VertexUser         VertexKind = "user"
	VertexServer       VertexKind = "server"
	VertexRole         VertexKind = "role"
	VertexSubscription VertexKind = "subscription"
	VertexChannel      VertexKind = "channel"
)

type ChannelKind string

const (
	ChannelText         ChannelKind = "text"
	ChannelVoice        ChannelKind = "voice"
	ChannelNotification ChannelKind = "notification"
	ChannelSub          ChannelKind = "sub"
	ChannelPairVoice    ChannelKind = "pair_voice"
)

type EdgeKind string

const (
	EdgeHasSubscription      EdgeKind = "has_subscription"       // User -> Subscription
	EdgeMemberOf             EdgeKind = "member_of"              // Subscription -> Server
	EdgeBelongsToRole        EdgeKind = "belongs_to_role"        // Subscription -> Role
	EdgeContainsChannel      EdgeKind = "contains_channel"       // Server -> Channel
	EdgeContainsRole         EdgeKind = "contains_role"          // Server -> Role
	EdgeChannelCanSee        EdgeKind = "channel_can_see"        // Role -> Channel
	EdgeChannelCanWrite      EdgeKind = "channel_can_write"      // Role -> text Channel
	EdgeChannelCanWriteSub   EdgeKind = "channel_can_write_sub"  // Role -> text Channel
	EdgeChannelNotificated   EdgeKind = "channel_notificated"    // Role -> notification Channel
	EdgeChannelCanUse        EdgeKind = "channel_can_use"        // Role -> sub Channel
	EdgeChannelCanJoin       EdgeKind = "channel_can_join"       // Role -> voice Channel
	EdgeNonNotifiableChannel EdgeKind = "non_notifiable_channel" // Subscription -> Channel
	EdgeNonNotifiableServer  EdgeKind = "non_notifiable_server"  // Subscription -> Server
)

type endpoints struct {
	src VertexKind
	dst VertexKind
	// restricted to these channel kinds when dst is a channel; empty means any
	dstChannelKinds []ChannelKind
}

var edgeSchema = map[EdgeKind]endpoints{
	EdgeHasSubscription:      {src: VertexUser, dst: VertexSubscription},
	EdgeMemberOf:             {src: VertexSubscription, dst: VertexServer},
	EdgeBelongsToRole:        {src: VertexSubscription, dst: VertexRole},
	EdgeContainsChannel:      {src: VertexServer, dst: VertexChannel},
	EdgeContainsRole:         {src: VertexServer, dst: VertexRole},
	EdgeChannelCanSee:        {src: VertexRole, dst: VertexChannel},
	EdgeChannelCanWrite:      {src: VertexRole, dst: VertexChannel, dstChannelKinds: []ChannelKind{ChannelText}},
	EdgeChannelCanWriteSub:   {src: VertexRole, dst: VertexChannel, dstChannelKinds: []ChannelKind{ChannelText}},
	EdgeChannelNotificated:   {src: VertexRole, dst: VertexChannel, dstChannelKinds: []ChannelKind{ChannelNotification}},
	EdgeChannelCanUse:        {src: VertexRole, dst: VertexChannel, dstChannelKinds: []ChannelKind{ChannelSub}},
	EdgeChannelCanJoin:       {src: VertexRole, dst: VertexChannel, dstChannelKinds: []ChannelKind{ChannelVoice, ChannelPairVoice}},
	EdgeNonNotifiableChannel: {src: VertexSubscription, dst: VertexChannel},
	EdgeNonNotifiableServer:  {src: VertexSubscription, dst: VertexServer},
}

// Graph is the permission graph store: an in-memory adjacency structure with
// explicit traversal functions per relation, mirrored to a persistent store on
// every structural write. All read paths are pure queries over current state.
type Graph struct {
	mu           sync.RWMutex
	vertices     map[string]VertexKind
	channelKinds map[string]ChannelKind
	out          map[EdgeKind]map[string]map[string]struct{}
	in           map[EdgeKind]map[string]map[string]struct{}
	store        Store
}

// NewGraph builds the graph from the store. A nil store keeps the graph purely
// in memory, which tests rely on.
func NewGraph(store Store) (*Graph, error) {
	g := &Graph{
		vertices:     make(map[string]VertexKind),
		channelKinds: make(map[string]ChannelKind),
		out:          make(map[EdgeKind]map[string]map[string]struct{}),
		in:           make(map[EdgeKind]map[string]map[string]struct{}),
		store:        store,
	}

	if store == nil {
		return g, nil
	}

	vertices, edges, err := store.Load()
	if err != nil {
		return nil, err
	}

	for _, v := range vertices {
		g.vertices[v.VertexID] = VertexKind(v.Kind)
		if v.ChannelKind != "" {
			g.channelKinds[v.VertexID] = ChannelKind(v.ChannelKind)
		}
	}
	for _, e := range edges {
		g.link(EdgeKind(e.Kind), e.SourceID, e.TargetID)
	}

	return g, nil
}

// link wires an edge into both adjacency maps. Caller holds the lock.
func (g *Graph) link(kind EdgeKind, src, dst string) {
	if g.out[kind] == nil {
		g.out[kind] = make(map[string]map[string]struct{})
	}
	if g.out[kind][src] == nil {
		g.out[kind][src] = make(map[string]struct{})
	}
	g.out[kind][src][dst] = struct{}{}

	if g.in[kind] == nil {
		g.in[kind] = make(map[string]map[string]struct{})
	}
	if g.in[kind][dst] == nil {
		g.in[kind][dst] = make(map[string]struct{})
	}
	g.in[kind][dst][src] = struct{}{}
}

func (g *Graph) unlink(kind EdgeKind, src, dst string) {
	if targets := g.out[kind][src]; targets != nil {
		delete(targets, dst)
	}
	if sources := g.in[kind][dst]; sources != nil {
		delete(sources, src)
	}
}

// AddVertex registers a non-channel vertex. Re-adding an existing vertex is a
// no-op.
func (g *Graph) AddVertex(kind VertexKind, id string) error {
	if kind == VertexChannel {
		return apperr.Validation("vertex", "channels require AddChannel with a channel kind")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.vertices[id]; ok {
		return nil
	}
	g.vertices[id] = kind

	if g.store != nil {
		return g.store.InsertVertex(VertexRecord{VertexID: id, Kind: string(kind)})
	}
	return nil
}

func (g *Graph) AddChannel(id string, kind ChannelKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.vertices[id]; ok {
		return nil
	}
	g.vertices[id] = VertexChannel
	g.channelKinds[id] = kind

	if g.store != nil {
		return g.store.InsertVertex(VertexRecord{VertexID: id, Kind: string(VertexChannel), ChannelKind: string(kind)})
	}
	return nil
}

// RemoveVertex deletes the vertex and every edge touching it, so no orphan
// edges survive an entity deletion. Removing an unknown vertex is a no-op.
func (g *Graph) RemoveVertex(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.vertices[id]; !ok {
		return nil
	}

	for kind := range edgeSchema {
		for dst := range g.out[kind][id] {
			g.unlink(kind, id, dst)
		}
		for src := range g.in[kind][id] {
			g.unlink(kind, src, id)
		}
	}

	delete(g.vertices, id)
	delete(g.channelKinds, id)

	if g.store != nil {
		if err := g.store.DeleteVertexEdges(id); err != nil {
			return err
		}
		return g.store.DeleteVertex(id)
	}
	return nil
}

// AddEdge creates a relationship edge. Creating an edge that already exists is
// a no-op. Endpoint kinds are validated against the relation schema.
func (g *Graph) AddEdge(kind EdgeKind, src, dst string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkEndpoints(kind, src, dst); err != nil {
		return err
	}

	if _, ok := g.out[kind][src][dst]; ok {
		return nil
	}
	g.link(kind, src, dst)

	if g.store != nil {
		return g.store.InsertEdge(EdgeRecord{Kind: string(kind), SourceID: src, TargetID: dst})
	}
	return nil
}

// RemoveEdge deletes an edge; deleting a non-existent edge is a no-op.
func (g *Graph) RemoveEdge(kind EdgeKind, src, dst string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.out[kind][src][dst]; !ok {
		return nil
	}
	g.unlink(kind, src, dst)

	if g.store != nil {
		return g.store.DeleteEdge(EdgeRecord{Kind: string(kind), SourceID: src, TargetID: dst})
	}
	return nil
}

func (g *Graph) checkEndpoints(kind EdgeKind, src, dst string) error {
	schema, ok := edgeSchema[kind]
	if !ok {
		return apperr.Validation("edge", fmt.Sprintf("unknown edge kind %q", kind))
	}

	srcKind, ok := g.vertices[src]
	if !ok {
		return apperr.NotFound("edge source " + src)
	}
	dstKind, ok := g.vertices[dst]
	if !ok {
		return apperr.NotFound("edge target " + dst)
	}

	if srcKind != schema.src || dstKind != schema.dst {
		return apperr.Validation("edge", fmt.Sprintf("%s requires %s->%s, got %s->%s", kind, schema.src, schema.dst, srcKind, dstKind))
	}

	if len(schema.dstChannelKinds) > 0 {
		ck := g.channelKinds[dst]
		allowed := false
		for _, k := range schema.dstChannelKinds {
			if ck == k {
				allowed = true
				break
			}
		}
		if !allowed {
			return apperr.Validation("edge", fmt.Sprintf("%s does not apply to %s channels", kind, ck))
		}
	}

	return nil
}

func (g *Graph) ChannelKind(id string) (ChannelKind, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	kind, ok := g.channelKinds[id]
	return kind, ok
}

// ChannelServer returns the server containing the channel, "" if unknown.
func (g *Graph) ChannelServer(channelID string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.channelServerLocked(channelID)
}

func (g *Graph) channelServerLocked(channelID string) string {
	for server := range g.in[EdgeContainsChannel][channelID] {
		return server
	}
	return ""
}

// rolesOfLocked walks User -> Subscription -> Role. Caller holds a read lock.
func (g *Graph) rolesOfLocked(userID string) map[string]struct{} {
	roles := make(map[string]struct{})
	for sub := range g.out[EdgeHasSubscription][userID] {
		for role := range g.out[EdgeBelongsToRole][sub] {
			roles[role] = struct{}{}
		}
	}
	return roles
}

func (g *Graph) hasRoleEdgeTo(userID, channelID string, kinds ...EdgeKind) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for role := range g.rolesOfLocked(userID) {
		for _, kind := range kinds {
			if _, ok := g.out[kind][role][channelID]; ok {
				return true
			}
		}
	}
	return false
}

// CanSee reports whether any of the user's roles carries a visibility edge to
// the channel. A channel with zero inbound visibility edges is visible to
// nobody.
func (g *Graph) CanSee(userID, channelID string) bool {
	return g.hasRoleEdgeTo(userID, channelID, EdgeChannelCanSee, EdgeChannelCanUse)
}

func (g *Graph) CanWrite(userID, channelID string) bool {
	return g.hasRoleEdgeTo(userID, channelID, EdgeChannelCanWrite)
}

// CanWriteSub reports whether the user may spawn nested sub-channels from
// messages in the channel.
func (g *Graph) CanWriteSub(userID, channelID string) bool {
	return g.hasRoleEdgeTo(userID, channelID, EdgeChannelCanWriteSub)
}

func (g *Graph) CanUse(userID, subChannelID string) bool {
	return g.hasRoleEdgeTo(userID, subChannelID, EdgeChannelCanUse)
}

func (g *Graph) CanJoin(userID, voiceChannelID string) bool {
	return g.hasRoleEdgeTo(userID, voiceChannelID, EdgeChannelCanJoin)
}

// Recipients computes every user entitled to learn about activity in the
// channel with one reverse traversal: channel <- role <- subscription <- user.
// Sub-channels use the can-use edge, every other kind the can-see edge.
func (g *Graph) Recipients(channelID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return setToSlice(g.recipientsLocked(channelID))
}

func (g *Graph) recipientsLocked(channelID string) map[string]struct{} {
	visibility := EdgeChannelCanSee
	if g.channelKinds[channelID] == ChannelSub {
		visibility = EdgeChannelCanUse
	}

	users := make(map[string]struct{})
	for role := range g.in[visibility][channelID] {
		for sub := range g.in[EdgeBelongsToRole][role] {
			for u := range g.in[EdgeHasSubscription][sub] {
				users[u] = struct{}{}
			}
		}
	}
	return users
}

// NotifiableRecipients filters mentioned users and role members down to those
// who can see the channel and have not opted it (or its server) out. For
// notification channels the members of roles holding a notificated edge join
// the candidate set. The result is always a subset of Recipients.
func (g *Graph) NotifiableRecipients(channelID string, mentionedUserIDs, mentionedRoleIDs []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visible := g.recipientsLocked(channelID)
	serverID := g.channelServerLocked(channelID)

	candidates := make(map[string]struct{})
	for _, u := range mentionedUserIDs {
		candidates[u] = struct{}{}
	}
	roles := mentionedRoleIDs
	if g.channelKinds[channelID] == ChannelNotification {
		for role := range g.in[EdgeChannelNotificated][channelID] {
			roles = append(roles, role)
		}
	}
	for _, role := range roles {
		for sub := range g.in[EdgeBelongsToRole][role] {
			for u := range g.in[EdgeHasSubscription][sub] {
				candidates[u] = struct{}{}
			}
		}
	}

	result := make(map[string]struct{})
	for u := range candidates {
		if _, ok := visible[u]; !ok {
			continue
		}
		if g.optedOutLocked(u, channelID, serverID) {
			continue
		}
		result[u] = struct{}{}
	}
	return setToSlice(result)
}

func (g *Graph) optedOutLocked(userID, channelID, serverID string) bool {
	for sub := range g.out[EdgeHasSubscription][userID] {
		if _, member := g.out[EdgeMemberOf][sub][serverID]; !member {
			continue
		}
		if _, ok := g.out[EdgeNonNotifiableChannel][sub][channelID]; ok {
			return true
		}
		if _, ok := g.out[EdgeNonNotifiableServer][sub][serverID]; ok {
			return true
		}
	}
	return false
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
