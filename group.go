package httpengine

// Group is a *RouteNode plus a set of security checks and handlers shared by
// every route registered through it, the RouteNode-chaining equivalent of
// the teacher's group.go Group (prefix plus accumulated GasFuncs).
type Group struct {
	node   *RouteNode
	checks []SecurityCheck
	chain  []Handler
}

// Group returns a Group rooted at n, inheriting no checks or handlers of its
// own.
func (n *RouteNode) Group() *Group {
	return &Group{node: n}
}

// Use appends checks and chain to every route registered through g from this
// point on.
func (g *Group) Use(checks []SecurityCheck, chain ...Handler) *Group {
	g.checks = append(append([]SecurityCheck{}, g.checks...), checks...)
	g.chain = append(append([]Handler{}, g.chain...), chain...)
	return g
}

// Static descends into a literal child of g's node, returning a new Group at
// that child that still inherits g's checks and chain.
func (g *Group) Static(s string) *Group {
	return &Group{node: g.node.Static(s), checks: g.checks, chain: g.chain}
}

// Param descends into a parameter-capturing child of g's node.
func (g *Group) Param(name string) *Group {
	return &Group{node: g.node.Param(name), checks: g.checks, chain: g.chain}
}

// Node returns the underlying RouteNode, for registering routes g doesn't
// have a convenience method for.
func (g *Group) Node() *RouteNode { return g.node }

// Handle registers method on g's node with g's inherited checks and chain
// run before extraChecks/extraChain.
func (g *Group) Handle(method string, format BodyFormat, extraChecks []SecurityCheck, extraChain ...Handler) *RouteNode {
	checks := append(append([]SecurityCheck{}, g.checks...), extraChecks...)
	chain := append(append([]Handler{}, g.chain...), extraChain...)
	return g.node.Handle(method, format, checks, chain...)
}
