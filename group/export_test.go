package group

// OpenLinks reports how many mailboxes the transport behind g is holding, across every context
func OpenLinks(g *Group) int {
	g.mu.Lock()
	ep := g.ep
	g.mu.Unlock()

	switch e := ep.(type) {
	case *localEndpoint:
		e.hub.mu.Lock()
		defer e.hub.mu.Unlock()
		return len(e.hub.boxes)
	case *meshEndpoint:
		e.mesh.mu.Lock()
		defer e.mesh.mu.Unlock()
		return len(e.mesh.inbox)
	default:
		return 0
	}
}
