// Package assign chooses, for a Transport order, the order in which its
// pickups are visited and the entity (mobile robot, forklift, worker)
// that executes it.
//
// For every uncommitted entity that can reach all stops the assigner
// builds a greedy nearest-neighbor route from the entity's position over
// the pickups, then the delivery. If that route violates the task's
// constraints, small pickup sets are searched exhaustively for the
// shortest feasible order. The entity with the shortest feasible route
// wins. Declaration order breaks route ties and the lower entity id breaks
// entity ties, so results are deterministic.
package assign
