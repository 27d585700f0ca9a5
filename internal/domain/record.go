package domain

import (
	"strconv"
	"strings"
	"time"
)

// Record is one item of an entity as adapted from the remote API.
// Records are immutable once a fetcher has produced them.
type Record interface {
	Kind() EntityKind
	RecordID() string
	// Field returns the named field value. The bool is false when the
	// record type has no such field.
	Field(name string) (any, bool)
	// Fields lists the field names in display order.
	Fields() []string
}

// TimestampFields lists the field names recognized as a record timestamp, in lookup order.
var TimestampFields = []string{"created", "created_at", "date"}

// Applicant is a candidate enriched with resolved status and source names.
type Applicant struct {
	ID            int      `json:"id"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	MiddleName    string   `json:"middle_name"`
	Email         string   `json:"email"`
	Phone         string   `json:"phone"`
	Position      string   `json:"position"`
	Company       string   `json:"company"`
	Money         string   `json:"money"`
	Created       string   `json:"created"`
	SourceID      int      `json:"source_id"`
	SourceName    string   `json:"source_name"`
	StatusID      int      `json:"status_id"`
	StatusName    string   `json:"status_name"`
	StatusType    string   `json:"status_type"`
	VacancyID     int      `json:"vacancy_id"`
	RecruiterID   int      `json:"recruiter_id"`
	RecruiterName string   `json:"recruiter_name"`
	Tags          []string `json:"tags,omitempty"`

	// kind lets hires and rejections share the applicant shape.
	kind EntityKind
}

var applicantFields = []string{
	"id", "first_name", "last_name", "middle_name", "email", "phone", "position", "company",
	"money", "created", "source_id", "source_name", "status_id", "status_name", "status_type",
	"vacancy_id", "recruiter_id", "recruiter_name", "tags",
}

// AsKind returns a copy of the applicant reported under another applicant-shaped kind.
func (a Applicant) AsKind(kind EntityKind) Applicant {
	a.kind = kind
	return a
}

func (a Applicant) Kind() EntityKind {
	if a.kind == "" {
		return EntityApplicants
	}
	return a.kind
}

func (a Applicant) RecordID() string { return strconv.Itoa(a.ID) }
func (a Applicant) Fields() []string { return applicantFields }

// FullName joins the non-empty name parts.
func (a Applicant) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.FirstName, a.MiddleName, a.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Field returns unset references as nil so exists and equality never match them.
func (a Applicant) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, true
	case "first_name":
		return a.FirstName, true
	case "last_name":
		return a.LastName, true
	case "middle_name":
		return a.MiddleName, true
	case "name", "full_name":
		return a.FullName(), true
	case "email":
		return a.Email, true
	case "phone":
		return a.Phone, true
	case "position":
		return a.Position, true
	case "company":
		return a.Company, true
	case "money":
		return a.Money, true
	case "created":
		return optionalString(a.Created), true
	case "source_id", "source":
		return optionalInt(a.SourceID), true
	case "source_name":
		return a.SourceName, true
	case "status_id", "status", "stage_id":
		return optionalInt(a.StatusID), true
	case "status_name":
		return a.StatusName, true
	case "status_type":
		return a.StatusType, true
	case "vacancy_id", "vacancy":
		return optionalInt(a.VacancyID), true
	case "recruiter_id", "recruiter":
		return optionalInt(a.RecruiterID), true
	case "recruiter_name":
		return optionalString(a.RecruiterName), true
	case "tags":
		return a.Tags, true
	}
	return nil, false
}

// Vacancy is an open or closed position.
type Vacancy struct {
	ID       int    `json:"id"`
	Position string `json:"position"`
	Company  string `json:"company"`
	State    string `json:"state"`
	Created  string `json:"created"`
	Updated  string `json:"updated"`
	Priority int    `json:"priority"`
	Hidden   bool   `json:"hidden"`
	Multiple bool   `json:"multiple"`
	Division int    `json:"account_division"`
	Region   int    `json:"account_region"`
	Money    string `json:"money"`
}

var vacancyFields = []string{
	"id", "position", "company", "state", "created", "updated", "priority", "hidden",
	"multiple", "account_division", "account_region", "money",
}

func (v Vacancy) Kind() EntityKind { return EntityVacancies }
func (v Vacancy) RecordID() string { return strconv.Itoa(v.ID) }
func (v Vacancy) Fields() []string { return vacancyFields }

func (v Vacancy) Field(name string) (any, bool) {
	switch name {
	case "id":
		return v.ID, true
	case "position", "title", "name":
		return v.Position, true
	case "company":
		return v.Company, true
	case "state":
		return v.State, true
	case "created":
		return optionalString(v.Created), true
	case "updated":
		return optionalString(v.Updated), true
	case "priority":
		return v.Priority, true
	case "hidden":
		return v.Hidden, true
	case "multiple":
		return v.Multiple, true
	case "account_division", "division", "division_id":
		return v.Division, true
	case "account_region", "region":
		return v.Region, true
	case "money":
		return v.Money, true
	}
	return nil, false
}

// Recruiter is an account coworker. Hiring managers share the shape.
type Recruiter struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Type   string `json:"type"`
	Member int    `json:"member"`
	Head   int    `json:"head"`

	kind EntityKind
}

var recruiterFields = []string{"id", "name", "email", "type", "member", "head"}

// AsKind returns a copy of the coworker reported under another coworker-shaped kind.
func (r Recruiter) AsKind(kind EntityKind) Recruiter {
	r.kind = kind
	return r
}

func (r Recruiter) Kind() EntityKind {
	if r.kind == "" {
		return EntityRecruiters
	}
	return r.kind
}

func (r Recruiter) RecordID() string { return strconv.Itoa(r.ID) }
func (r Recruiter) Fields() []string { return recruiterFields }

func (r Recruiter) Field(name string) (any, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "name", "full_name":
		return r.Name, true
	case "email":
		return r.Email, true
	case "type":
		return r.Type, true
	case "member":
		return r.Member, true
	case "head":
		return r.Head, true
	}
	return nil, false
}

// Source is an applicant source (job board, referral, ...).
type Source struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Foreign string `json:"foreign"`
}

var sourceFields = []string{"id", "name", "type", "foreign"}

func (s Source) Kind() EntityKind { return EntitySources }
func (s Source) RecordID() string { return strconv.Itoa(s.ID) }
func (s Source) Fields() []string { return sourceFields }

func (s Source) Field(name string) (any, bool) {
	switch name {
	case "id":
		return s.ID, true
	case "name":
		return s.Name, true
	case "type":
		return s.Type, true
	case "foreign":
		return optionalString(s.Foreign), true
	}
	return nil, false
}

// Stage is a recruitment pipeline status.
type Stage struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Order   int    `json:"order"`
	Removed string `json:"removed"`
}

var stageFields = []string{"id", "name", "type", "order", "removed"}

func (s Stage) Kind() EntityKind { return EntityStages }
func (s Stage) RecordID() string { return strconv.Itoa(s.ID) }
func (s Stage) Fields() []string { return stageFields }

func (s Stage) Field(name string) (any, bool) {
	switch name {
	case "id":
		return s.ID, true
	case "name":
		return s.Name, true
	case "type":
		return s.Type, true
	case "order":
		return s.Order, true
	case "removed":
		return optionalString(s.Removed), true
	}
	return nil, false
}

// Division is an organizational unit of the account.
type Division struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	Active  bool   `json:"active"`
	Deep    int    `json:"deep"`
	Parent  int    `json:"parent"`
	Foreign string `json:"foreign"`
}

var divisionFields = []string{"id", "name", "order", "active", "deep", "parent", "foreign"}

func (d Division) Kind() EntityKind { return EntityDivisions }
func (d Division) RecordID() string { return strconv.Itoa(d.ID) }
func (d Division) Fields() []string { return divisionFields }

func (d Division) Field(name string) (any, bool) {
	switch name {
	case "id":
		return d.ID, true
	case "name":
		return d.Name, true
	case "order":
		return d.Order, true
	case "active":
		return d.Active, true
	case "deep":
		return d.Deep, true
	case "parent":
		return d.Parent, true
	case "foreign":
		return optionalString(d.Foreign), true
	}
	return nil, false
}

// Action is an entry of the account-wide action log.
type Action struct {
	ID            int    `json:"id"`
	Type          string `json:"type"`
	Created       string `json:"created"`
	RecruiterID   int    `json:"recruiter_id"`
	RecruiterName string `json:"recruiter_name"`
}

var actionFields = []string{"id", "type", "created", "recruiter_id", "recruiter_name"}

func (a Action) Kind() EntityKind { return EntityActions }
func (a Action) RecordID() string { return strconv.Itoa(a.ID) }
func (a Action) Fields() []string { return actionFields }

func (a Action) Field(name string) (any, bool) {
	switch name {
	case "id":
		return a.ID, true
	case "type":
		return a.Type, true
	case "created":
		return optionalString(a.Created), true
	case "recruiter_id", "recruiter":
		return optionalInt(a.RecruiterID), true
	case "recruiter_name":
		return optionalString(a.RecruiterName), true
	}
	return nil, false
}

// ActivityLog is one row of an applicant's activity log. It links an
// applicant, vacancy, status, source and acting recruiter at a point in time.
type ActivityLog struct {
	ID          int    `json:"id"`
	ApplicantID int    `json:"applicant_id"`
	VacancyID   int    `json:"vacancy_id"`
	StatusID    int    `json:"status_id"`
	SourceID    int    `json:"source_id"`
	RecruiterID int    `json:"recruiter_id"`
	Type        string `json:"type"`
	Created     string `json:"created"`
}

var activityLogFields = []string{"id", "applicant_id", "vacancy_id", "status_id", "source_id", "recruiter_id", "type", "created"}

func (l ActivityLog) Kind() EntityKind { return EntityActivityLogs }
func (l ActivityLog) RecordID() string { return strconv.Itoa(l.ID) }
func (l ActivityLog) Fields() []string { return activityLogFields }

// Field returns zero-valued references as nil so unset links never match.
func (l ActivityLog) Field(name string) (any, bool) {
	switch name {
	case "id":
		return l.ID, true
	case "applicant_id":
		return optionalInt(l.ApplicantID), true
	case "vacancy_id":
		return optionalInt(l.VacancyID), true
	case "status_id":
		return optionalInt(l.StatusID), true
	case "source_id":
		return optionalInt(l.SourceID), true
	case "recruiter_id":
		return optionalInt(l.RecruiterID), true
	case "type":
		return l.Type, true
	case "created":
		return optionalString(l.Created), true
	}
	return nil, false
}

// RecordTimestamp returns the first recognized timestamp field of the record.
// ok is false when the record has none or it is empty.
func RecordTimestamp(r Record) (value any, ok bool) {
	for _, name := range TimestampFields {
		v, exists := r.Field(name)
		if !exists || v == nil {
			continue
		}
		return v, true
	}
	return nil, false
}

// ParseTimestamp parses the timestamp layouts the remote API emits. Values
// without an offset are read in the local zone.
func ParseTimestamp(value string) (time.Time, error) {
	return ParseTimestampIn(value, time.Local)
}

// ParseTimestampIn is ParseTimestamp with offsetless values read in loc.
func ParseTimestampIn(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.ParseInLocation(layout, strings.TrimSpace(value), loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optionalInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

var prototypes = map[EntityKind]Record{
	EntityApplicants:     Applicant{},
	EntityHires:          Applicant{kind: EntityHires},
	EntityRejections:     Applicant{kind: EntityRejections},
	EntityVacancies:      Vacancy{},
	EntityRecruiters:     Recruiter{},
	EntityHiringManagers: Recruiter{kind: EntityHiringManagers},
	EntitySources:        Source{},
	EntityStages:         Stage{},
	EntityDivisions:      Division{},
	EntityActions:        Action{},
	EntityActivityLogs:   ActivityLog{},
}

// HasField reports whether records of the kind expose the named field.
func HasField(kind EntityKind, field string) bool {
	proto, ok := prototypes[kind]
	if !ok {
		return false
	}
	_, exists := proto.Field(field)
	return exists
}

// FieldsOf lists the display fields of a kind.
func FieldsOf(kind EntityKind) []string {
	if proto, ok := prototypes[kind]; ok {
		return proto.Fields()
	}
	return nil
}
