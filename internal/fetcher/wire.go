package fetcher

import (
	"sort"
	"strconv"

	"github.com/rpattn/hfql/internal/domain"
)

// Raw response items as the remote API returns them. Only the fields the
// records need are decoded.

type applicantLinkWire struct {
	Status  int    `json:"status"`
	Vacancy int    `json:"vacancy"`
	Updated string `json:"updated"`
}

type applicantTagWire struct {
	Tag int `json:"tag"`
}

type applicantWire struct {
	ID         int                 `json:"id"`
	FirstName  string              `json:"first_name"`
	LastName   string              `json:"last_name"`
	MiddleName string              `json:"middle_name"`
	Email      string              `json:"email"`
	Phone      string              `json:"phone"`
	Position   string              `json:"position"`
	Company    string              `json:"company"`
	Money      string              `json:"money"`
	Created    string              `json:"created"`
	Source     int                 `json:"source"`
	Links      []applicantLinkWire `json:"links"`
	Tags       []applicantTagWire  `json:"tags"`
}

type vacancyWire struct {
	ID              int    `json:"id"`
	Position        string `json:"position"`
	Company         string `json:"company"`
	State           string `json:"state"`
	Created         string `json:"created"`
	Updated         string `json:"updated"`
	Priority        int    `json:"priority"`
	Hidden          bool   `json:"hidden"`
	Multiple        bool   `json:"multiple"`
	AccountDivision int    `json:"account_division"`
	AccountRegion   int    `json:"account_region"`
	Money           string `json:"money"`
}

type coworkerWire struct {
	ID     int    `json:"id"`
	Member int    `json:"member"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Type   string `json:"type"`
	Head   int    `json:"head"`
}

type sourceWire struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Foreign string `json:"foreign"`
}

type statusWire struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Order   int    `json:"order"`
	Removed string `json:"removed"`
}

type tagWire struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type divisionWire struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Order   int    `json:"order"`
	Active  bool   `json:"active"`
	Deep    int    `json:"deep"`
	Parent  int    `json:"parent"`
	Foreign string `json:"foreign"`
}

type accountInfoWire struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type actionWire struct {
	ID          int              `json:"id"`
	Type        string           `json:"type"`
	Created     string           `json:"created"`
	AccountInfo *accountInfoWire `json:"account_info"`
}

type applicantLogWire struct {
	ID          int              `json:"id"`
	Type        string           `json:"type"`
	Status      int              `json:"status"`
	Vacancy     int              `json:"vacancy"`
	Source      any              `json:"source"`
	Created     string           `json:"created"`
	AccountInfo *accountInfoWire `json:"account_info"`
}

// latestLink picks the most recently updated vacancy link.
func latestLink(links []applicantLinkWire) applicantLinkWire {
	if len(links) == 0 {
		return applicantLinkWire{}
	}
	sorted := append([]applicantLinkWire(nil), links...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Updated > sorted[j].Updated })
	return sorted[0]
}

func (w applicantWire) toRecord(n names) domain.Applicant {
	link := latestLink(w.Links)
	status := n.statuses[link.Status]
	tags := make([]string, 0, len(w.Tags))
	for _, t := range w.Tags {
		name, ok := n.tags[t.Tag]
		if !ok {
			name = strconv.Itoa(t.Tag)
		}
		tags = append(tags, name)
	}
	return domain.Applicant{
		ID:         w.ID,
		FirstName:  w.FirstName,
		LastName:   w.LastName,
		MiddleName: w.MiddleName,
		Email:      w.Email,
		Phone:      w.Phone,
		Position:   w.Position,
		Company:    w.Company,
		Money:      w.Money,
		Created:    w.Created,
		SourceID:   w.Source,
		SourceName: nameOr(n.sources, w.Source),
		StatusID:   link.Status,
		StatusName: orUnknown(status.Name),
		StatusType: status.Type,
		VacancyID:  link.Vacancy,
		Tags:       tags,
	}
}

func (w vacancyWire) toRecord() domain.Vacancy {
	return domain.Vacancy{
		ID:       w.ID,
		Position: w.Position,
		Company:  w.Company,
		State:    w.State,
		Created:  w.Created,
		Updated:  w.Updated,
		Priority: w.Priority,
		Hidden:   w.Hidden,
		Multiple: w.Multiple,
		Division: w.AccountDivision,
		Region:   w.AccountRegion,
		Money:    w.Money,
	}
}

func (w coworkerWire) toRecord() domain.Recruiter {
	return domain.Recruiter{ID: w.ID, Name: w.Name, Email: w.Email, Type: w.Type, Member: w.Member, Head: w.Head}
}

func (w sourceWire) toRecord() domain.Source {
	return domain.Source{ID: w.ID, Name: w.Name, Type: w.Type, Foreign: w.Foreign}
}

func (w statusWire) toRecord() domain.Stage {
	return domain.Stage{ID: w.ID, Name: w.Name, Type: w.Type, Order: w.Order, Removed: w.Removed}
}

func (w divisionWire) toRecord() domain.Division {
	return domain.Division{
		ID:      w.ID,
		Name:    w.Name,
		Order:   w.Order,
		Active:  w.Active,
		Deep:    w.Deep,
		Parent:  w.Parent,
		Foreign: w.Foreign,
	}
}

func (w actionWire) toRecord(n names) domain.Action {
	a := domain.Action{ID: w.ID, Type: w.Type, Created: w.Created}
	if w.AccountInfo != nil {
		a.RecruiterID = w.AccountInfo.ID
		a.RecruiterName = w.AccountInfo.Name
		if a.RecruiterName == "" {
			a.RecruiterName = nameOr(n.recruiters, a.RecruiterID)
		}
	}
	return a
}

func (w applicantLogWire) toRecord(applicantID int) domain.ActivityLog {
	l := domain.ActivityLog{
		ID:          w.ID,
		ApplicantID: applicantID,
		VacancyID:   w.Vacancy,
		StatusID:    w.Status,
		Type:        w.Type,
		Created:     w.Created,
	}
	// source may arrive as a name string; only numeric IDs link to sources
	if id, ok := w.Source.(float64); ok {
		l.SourceID = int(id)
	}
	if w.AccountInfo != nil {
		l.RecruiterID = w.AccountInfo.ID
	}
	return l
}

func nameOr(m map[int]string, id int) string {
	if name, ok := m[id]; ok && name != "" {
		return name
	}
	return unknownName
}

func orUnknown(name string) string {
	if name == "" {
		return unknownName
	}
	return name
}
