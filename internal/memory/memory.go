package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// DefaultRetention is the number of versions kept per memory unit.
// Older versions are dropped when the history grows past this cap.
const DefaultRetention = 50

// ScopeKind discriminates the two namespace shapes a memory unit can live in
type ScopeKind string

const (
	// ScopePersona means the unit is scoped to a persona alone
	ScopePersona ScopeKind = "persona"
	// ScopeProject means the unit is scoped to a persona within a project
	ScopeProject ScopeKind = "project"
)

// Scope identifies the namespace a memory unit's version history lives in.
// The project hash is meaningful only when Kind is ScopeProject; persona-only
// and project-scoped histories for the same memory ID are distinct units.
type Scope struct {
	Kind    ScopeKind `json:"kind"`              // Which variant this is
	Persona string    `json:"persona"`           // Owning persona, always set
	Project string    `json:"project,omitempty"` // Project hash, ScopeProject only
}

// PersonaScope returns a scope for a unit owned by a persona alone.
func PersonaScope(persona string) Scope {
	return Scope{Kind: ScopePersona, Persona: persona}
}

// ProjectScope returns a scope for a unit owned by a persona within a project.
func ProjectScope(persona, projectHash string) Scope {
	return Scope{Kind: ScopeProject, Persona: persona, Project: projectHash}
}

// Validate checks that the scope's fields are consistent with its kind.
func (s Scope) Validate() error {
	if s.Persona == "" {
		return fmt.Errorf("scope: persona is required")
	}
	switch s.Kind {
	case ScopePersona:
		if s.Project != "" {
			return fmt.Errorf("scope: persona scope cannot carry project %q", s.Project)
		}
	case ScopeProject:
		if s.Project == "" {
			return fmt.Errorf("scope: project scope requires a project hash")
		}
	default:
		return fmt.Errorf("scope: unknown kind %q", s.Kind)
	}
	return nil
}

// Segments returns the path segments that distinguish this scope from all
// others. Persona-only scopes occupy a reserved "global" slot so they can
// never collide with a project hash.
func (s Scope) Segments() []string {
	switch s.Kind {
	case ScopeProject:
		return []string{s.Persona, s.Project}
	default:
		return []string{s.Persona, "global"}
	}
}

// String renders the scope for log fields and error messages.
func (s Scope) String() string {
	if s.Kind == ScopeProject {
		return s.Persona + "/" + s.Project
	}
	return s.Persona
}

// UnitRef names one memory unit: an ID within a scope.
type UnitRef struct {
	MemoryID string `json:"memoryId"` // Unit identifier, unique within its scope
	Scope    Scope  `json:"scope"`    // Namespace the unit belongs to
}

// Ref builds a UnitRef from a memory ID, persona and optional project hash,
// picking the scope variant from whether the hash is present.
func Ref(memoryID, persona, projectHash string) UnitRef {
	if projectHash != "" {
		return UnitRef{MemoryID: memoryID, Scope: ProjectScope(persona, projectHash)}
	}
	return UnitRef{MemoryID: memoryID, Scope: PersonaScope(persona)}
}

// Validate checks the ref names a concrete unit.
func (r UnitRef) Validate() error {
	if r.MemoryID == "" {
		return fmt.Errorf("unit: memory ID is required")
	}
	return r.Scope.Validate()
}

// String renders the ref for log fields and error messages.
func (r UnitRef) String() string {
	return r.Scope.String() + "/" + r.MemoryID
}

// Version is one content revision of a memory unit. Versions written through
// the coordinator number from 1 with no gaps; the checksum is recorded for
// conflict reporting and is never re-verified on read.
type Version struct {
	Version   int64     `json:"version"`   // Monotonic revision number, 1-based
	Content   string    `json:"content"`   // Full content at this revision
	Timestamp time.Time `json:"timestamp"` // When the revision was written
	Author    string    `json:"author"`    // Who wrote it
	Checksum  string    `json:"checksum"`  // SHA-256 of Content, hex
}

// Checksum returns the hex SHA-256 digest of content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ConflictDescriptor describes one version written after a caller's base
// version, for surfacing concurrent edits to the caller.
type ConflictDescriptor struct {
	Version     int64     `json:"version"`     // Conflicting revision number
	Author      string    `json:"author"`      // Who wrote the conflicting revision
	Timestamp   time.Time `json:"timestamp"`   // When it was written
	Description string    `json:"description"` // Human-readable summary
}

// DescribeConflict builds the descriptor for one version past a base.
func DescribeConflict(v Version) ConflictDescriptor {
	return ConflictDescriptor{
		Version:     v.Version,
		Author:      v.Author,
		Timestamp:   v.Timestamp,
		Description: fmt.Sprintf("version %d written by %s at %s", v.Version, v.Author, v.Timestamp.Format(time.RFC3339)),
	}
}

// SortDescending orders versions newest-first in place.
func SortDescending(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})
}

// TrimRetained returns versions sorted newest-first and capped to retain
// entries. The input slice is reordered in place; the returned slice aliases
// its head.
func TrimRetained(versions []Version, retain int) []Version {
	SortDescending(versions)
	if retain > 0 && len(versions) > retain {
		return versions[:retain]
	}
	return versions
}

// Latest returns the highest version number present, or 0 for an empty
// history.
func Latest(versions []Version) int64 {
	var max int64
	for _, v := range versions {
		if v.Version > max {
			max = v.Version
		}
	}
	return max
}
