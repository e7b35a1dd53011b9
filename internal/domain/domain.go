package domain

import "time"

type AuthorisationStatus string

const (
	AuthorisationPending   AuthorisationStatus = "PENDING"
	AuthorisationApproved  AuthorisationStatus = "APPROVED"
	AuthorisationDenied    AuthorisationStatus = "DENIED"
	AuthorisationCancelled AuthorisationStatus = "CANCELLED"
	AuthorisationExpired   AuthorisationStatus = "EXPIRED"
)

// OccurrenceStatus is derived, never client supplied. The zero value means
// no status has been computed yet.
type OccurrenceStatus string

const (
	OccurrencePending    OccurrenceStatus = "PENDING"
	OccurrenceScheduled  OccurrenceStatus = "SCHEDULED"
	OccurrenceInProgress OccurrenceStatus = "IN_PROGRESS"
	OccurrenceOverdue    OccurrenceStatus = "OVERDUE"
	OccurrenceCompleted  OccurrenceStatus = "COMPLETED"
	OccurrenceCancelled  OccurrenceStatus = "CANCELLED"
	OccurrenceDenied     OccurrenceStatus = "DENIED"
	OccurrenceExpired    OccurrenceStatus = "EXPIRED"
)

// Settled reports whether the occurrence is over and its record is history.
func (s OccurrenceStatus) Settled() bool {
	switch s {
	case OccurrenceCompleted, OccurrenceCancelled, OccurrenceDenied, OccurrenceExpired:
		return true
	}
	return false
}

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Source tags where a change originated.
type Source string

const (
	SourceDPS   Source = "DPS"
	SourceNOMIS Source = "NOMIS"
)

// Reference data domains forming the categorisation hierarchy.
const (
	DomainAbsenceType           = "ABSENCE_TYPE"
	DomainAbsenceSubType        = "ABSENCE_SUB_TYPE"
	DomainAbsenceReasonCategory = "ABSENCE_REASON_CATEGORY"
	DomainAbsenceReason         = "ABSENCE_REASON"
	DomainAccompaniedBy         = "ACCOMPANIED_BY"
	DomainTransport             = "TRANSPORT"
	DomainLocationType          = "LOCATION_TYPE"
)

// CategorisationLevels lists the hierarchy from the broadest level to the leaf.
var CategorisationLevels = []string{
	DomainAbsenceType,
	DomainAbsenceSubType,
	DomainAbsenceReasonCategory,
	DomainAbsenceReason,
}

type Categorisation struct {
	AbsenceType           string `json:"absence_type,omitempty"`
	AbsenceSubType        string `json:"absence_sub_type,omitempty"`
	AbsenceReasonCategory string `json:"absence_reason_category,omitempty"`
	AbsenceReason         string `json:"absence_reason"`
}

// Level returns the code held for a categorisation domain.
func (c Categorisation) Level(domain string) string {
	switch domain {
	case DomainAbsenceType:
		return c.AbsenceType
	case DomainAbsenceSubType:
		return c.AbsenceSubType
	case DomainAbsenceReasonCategory:
		return c.AbsenceReasonCategory
	case DomainAbsenceReason:
		return c.AbsenceReason
	}
	return ""
}

// WithLevel returns a copy with the code for domain replaced.
func (c Categorisation) WithLevel(domain, code string) Categorisation {
	switch domain {
	case DomainAbsenceType:
		c.AbsenceType = code
	case DomainAbsenceSubType:
		c.AbsenceSubType = code
	case DomainAbsenceReasonCategory:
		c.AbsenceReasonCategory = code
	case DomainAbsenceReason:
		c.AbsenceReason = code
	}
	return c
}

type ReasonPathItem struct {
	Domain string `json:"domain"`
	Code   string `json:"code"`
}

// ReasonPath records which categorisation levels were actually resolved.
type ReasonPath []ReasonPathItem

func (p ReasonPath) Has(domain string) bool {
	for _, item := range p {
		if item.Domain == domain {
			return true
		}
	}
	return false
}

func (p ReasonPath) Equal(other ReasonPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Schedule is the daily template used to materialise repeat occurrences.
// Times are HH:MM in UTC.
type Schedule struct {
	Start  string `json:"start" example:"09:00"`
	Return string `json:"return" example:"17:30"`
}

type Authorisation struct {
	ID               string              `json:"id"`
	PersonIdentifier string              `json:"person_identifier"`
	PrisonCode       string              `json:"prison_code"`
	Start            time.Time           `json:"start" format:"date-time"`
	End              time.Time           `json:"end" format:"date-time"`
	Repeat           bool                `json:"repeat"`
	Categorisation   Categorisation      `json:"categorisation"`
	ReasonPath       ReasonPath          `json:"reason_path"`
	Accompaniment    string              `json:"accompaniment,omitempty"`
	Transport        string              `json:"transport,omitempty"`
	Comments         string              `json:"comments,omitempty"`
	Status           AuthorisationStatus `json:"status" enum:"PENDING,APPROVED,DENIED,CANCELLED,EXPIRED"`
	Schedule         *Schedule           `json:"schedule,omitempty"`
	Version          int                 `json:"version"`
	CreatedAt        time.Time           `json:"created_at" format:"date-time"`
	UpdatedAt        time.Time           `json:"updated_at" format:"date-time"`
}

type Occurrence struct {
	ID                  string           `json:"id"`
	AuthorisationID     string           `json:"authorisation_id"`
	PersonIdentifier    string           `json:"person_identifier"`
	Categorisation      Categorisation   `json:"categorisation"`
	Start               time.Time        `json:"start" format:"date-time"`
	End                 time.Time        `json:"end" format:"date-time"`
	Location            string           `json:"location,omitempty"`
	Accompaniment       string           `json:"accompaniment,omitempty"`
	Transport           string           `json:"transport,omitempty"`
	Comments            string           `json:"comments,omitempty"`
	Status              OccurrenceStatus `json:"status" enum:"PENDING,SCHEDULED,IN_PROGRESS,OVERDUE,COMPLETED,CANCELLED,DENIED,EXPIRED"`
	// CancelledExplicitly pins a CANCELLED status against recalculation
	// until the occurrence is rescheduled.
	CancelledExplicitly bool             `json:"cancelled_explicitly,omitempty"`
	Version             int              `json:"version"`
	Movements           []Movement       `json:"movements,omitempty"`
	CreatedAt           time.Time        `json:"created_at" format:"date-time"`
	UpdatedAt           time.Time        `json:"updated_at" format:"date-time"`
}

type Movement struct {
	ID               string    `json:"id"`
	OccurrenceID     string    `json:"occurrence_id,omitempty"`
	PersonIdentifier string    `json:"person_identifier"`
	Direction        Direction `json:"direction" enum:"IN,OUT"`
	OccurredAt       time.Time `json:"occurred_at" format:"date-time"`
	AbsenceReason    string    `json:"absence_reason,omitempty"`
	Accompaniment    string    `json:"accompaniment,omitempty"`
	Location         string    `json:"location,omitempty"`
	PrisonCode       string    `json:"prison_code"`
	CreatedAt        time.Time `json:"created_at" format:"date-time"`
	UpdatedAt        time.Time `json:"updated_at" format:"date-time"`
}

// Event is a reportable business event. It is comparable so a set of events
// can be keyed on the value itself.
type Event struct {
	Type             string `json:"type"`
	PersonIdentifier string `json:"person_identifier"`
	EntityID         string `json:"entity_id"`
	Source           Source `json:"source" enum:"DPS,NOMIS"`
}

type ReferenceItem struct {
	Domain      string `json:"domain"`
	Code        string `json:"code"`
	Description string `json:"description"`
	NextDomain  string `json:"next_domain,omitempty"`
	Active      bool   `json:"active"`
	Sequence    int    `json:"sequence"`
}

type ReferenceLink struct {
	FromDomain string `json:"from_domain"`
	FromCode   string `json:"from_code"`
	ToDomain   string `json:"to_domain"`
	ToCode     string `json:"to_code"`
}

type AuditEntry struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts" format:"date-time"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	ActorID    string    `json:"actor_id"`
	Source     Source    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
}

type Person struct {
	Identifier string    `json:"person_identifier"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	PrisonCode string    `json:"prison_code,omitempty"`
	UpdatedAt  time.Time `json:"updated_at" format:"date-time"`
}
