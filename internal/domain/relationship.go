package domain

// Relationship describes how a target entity links to a filter entity.
type Relationship struct {
	// Field is the target's foreign-key field. Empty when Indirect.
	Field string
	// Indirect relationships are resolved by scanning the activity log.
	Indirect bool
}

type relationshipKey struct {
	target EntityKind
	filter EntityKind
}

func direct(field string) Relationship { return Relationship{Field: field} }

var indirect = Relationship{Indirect: true}

var relationships = map[relationshipKey]Relationship{
	{EntityVacancies, EntityDivisions}:      direct("account_division"),
	{EntityVacancies, EntityRecruiters}:     indirect,
	{EntityVacancies, EntityHiringManagers}: indirect,
	{EntityVacancies, EntitySources}:        indirect,

	{EntitySources, EntityRecruiters}: indirect,
	{EntitySources, EntityVacancies}:  indirect,

	{EntityRecruiters, EntitySources}:   indirect,
	{EntityRecruiters, EntityVacancies}: indirect,

	{EntityStages, EntityRecruiters}: indirect,

	{EntityActions, EntityRecruiters}: direct("recruiter_id"),
}

func init() {
	for _, target := range []EntityKind{EntityApplicants, EntityHires, EntityRejections} {
		relationships[relationshipKey{target, EntityRecruiters}] = direct("recruiter_id")
		relationships[relationshipKey{target, EntityVacancies}] = direct("vacancy_id")
		relationships[relationshipKey{target, EntitySources}] = direct("source_id")
		relationships[relationshipKey{target, EntityStages}] = direct("status_id")
	}
}

// LookupRelationship returns the relationship from target to filter entity.
// ok is false when the pair is not related.
func LookupRelationship(target, filterEntity EntityKind) (Relationship, bool) {
	rel, ok := relationships[relationshipKey{target, filterEntity}]
	return rel, ok
}

// activity log column referencing each entity
var logReferenceFields = map[EntityKind]string{
	EntityRecruiters:     "recruiter_id",
	EntityHiringManagers: "recruiter_id",
	EntitySources:        "source_id",
	EntityVacancies:      "vacancy_id",
	EntityStages:         "status_id",
	EntityApplicants:     "applicant_id",
}

// LogReferenceField returns the activity log field that references the entity.
func LogReferenceField(kind EntityKind) (string, bool) {
	field, ok := logReferenceFields[kind]
	return field, ok
}
