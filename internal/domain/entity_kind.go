package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// EntityKind names a collection of records backed by the remote API.
type EntityKind string

const (
	EntityApplicants     EntityKind = "applicants"
	EntityVacancies      EntityKind = "vacancies"
	EntityRecruiters     EntityKind = "recruiters"
	EntityHiringManagers EntityKind = "hiring_managers"
	EntityStages         EntityKind = "stages"
	EntitySources        EntityKind = "sources"
	EntityHires          EntityKind = "hires"
	EntityRejections     EntityKind = "rejections"
	EntityActions        EntityKind = "actions"
	EntityDivisions      EntityKind = "divisions"

	// EntityActivityLogs is the auxiliary applicant activity log. It backs
	// indirect relationships and is not a query target.
	EntityActivityLogs EntityKind = "activity_logs"
)

// ErrUnknownEntity is returned when an entity name is outside the closed set.
var ErrUnknownEntity = errors.New("unknown entity")

var queryableKinds = map[EntityKind]struct{}{
	EntityApplicants:     {},
	EntityVacancies:      {},
	EntityRecruiters:     {},
	EntityHiringManagers: {},
	EntityStages:         {},
	EntitySources:        {},
	EntityHires:          {},
	EntityRejections:     {},
	EntityActions:        {},
	EntityDivisions:      {},
}

// IsValid reports whether the kind belongs to the closed set of queryable entities.
func (k EntityKind) IsValid() bool {
	_, ok := queryableKinds[k]
	return ok
}

func (k EntityKind) String() string {
	return string(k)
}

// ParseEntityKind normalizes and validates an entity name.
func ParseEntityKind(name string) (EntityKind, error) {
	kind := EntityKind(strings.ToLower(strings.TrimSpace(name)))
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return kind, nil
}

// EntityKinds returns the queryable kinds in a stable order.
func EntityKinds() []EntityKind {
	kinds := make([]EntityKind, 0, len(queryableKinds))
	for kind := range queryableKinds {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Status types reported by the remote API for vacancy statuses.
const (
	StatusTypeHired = "hired"
	StatusTypeTrash = "trash"
	StatusTypeUser  = "user"
)

// CoworkerTypeManager marks coworkers acting as hiring managers.
const CoworkerTypeManager = "manager"
