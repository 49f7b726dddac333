// Package memory defines the identity and version model for Tiaki's shared
// memory units: the documents that agent personas read, lock, and rewrite.
//
// # Overview
//
// A memory unit is a named document owned by a persona, optionally narrowed
// to a single project. Every rewrite of a unit produces a new Version record;
// the unit's history is the ordered set of those records, newest first,
// capped at DefaultRetention entries.
//
// # Identity
//
// Units are addressed by UnitRef, a memory ID plus a Scope. Scope is a tagged
// variant with exactly two shapes:
//
//	ScopePersona:  (persona)            — shared across all of a persona's work
//	ScopeProject:  (persona, project)   — private to one project
//
// The two shapes never collide: persona-only histories occupy a reserved
// "global" slot in the storage layout, so a project hash can never shadow
// them. Segments() is the single source of truth for that mapping and is
// exhaustive over the variant.
//
// # Versions
//
// Version numbers start at 1 and increase by exactly 1 per write when written
// through the lock coordinator. Each record carries the full content, the
// author, a timestamp, and a SHA-256 checksum of the content. The checksum
// exists for conflict reporting between agents; nothing in Tiaki re-verifies
// it on read.
//
// # See Also
//
// Related packages:
//   - internal/store: persists lock records and version histories
//   - internal/coordinator: enforces locking and version monotonicity
package memory
