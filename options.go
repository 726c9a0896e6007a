package taskgraph

// Option configures a Graph.
type Option func(*Graph)

// WithPolicy overrides the capability precedence used for track
// selection, e.g. one loaded via PolicyFromYAML for a device with an
// unusual queue layout.
func WithPolicy(policy CapabilityPolicy) Option {
	return func(g *Graph) { g.policy = policy }
}

// WithTempTimeout sets how many scheduling rounds an unused temporary
// resource survives before it is destroyed. Zero keeps the default.
func WithTempTimeout(rounds uint64) Option {
	return func(g *Graph) { g.tempTimeout = rounds }
}
