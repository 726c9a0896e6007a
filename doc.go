// Package taskgraph schedules dependency-ordered device work across
// heterogeneous queues.
//
// Callers describe work as Tasks that declare which resources they read
// and write. Each call to Execute forms one scheduling round: tasks are
// ordered by their data dependencies, split over execution tracks (one
// per distinct queue capability set), and submitted with every memory
// barrier, layout transition and queue-family ownership transfer
// synthesized automatically. Completion is observed through Guards,
// which are points on per-track timelines.
//
// The package is backend-agnostic. Device access goes through the
// driver subpackage; driver/software provides a host-memory
// implementation used in tests and headless tools.
package taskgraph
