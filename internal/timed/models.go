package timed

import (
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/timed-cli/internal/jsonapi"
)

// Resource types of the backend. The collection URL path of each type
// is the type name itself.
const (
	TypeUsers            = "users"
	TypeCustomers        = "customers"
	TypeProjects         = "projects"
	TypeTasks            = "tasks"
	TypeActivities       = "activities"
	TypeReports          = "reports"
	TypeAbsences         = "absences"
	TypeAbsenceTypes     = "absence-types"
	TypeAttendances      = "attendances"
	TypeWorktimeBalances = "worktime-balances"
)

// Entity is implemented by every typed resource.
type Entity interface {
	ResourceType() string
}

// resourceDecoder fills an entity from a decoded resource, resolving
// relationships against the document's included resources.
type resourceDecoder interface {
	fromResource(res *jsonapi.Resource, doc *jsonapi.Document) error
}

// resourceEncoder turns an entity back into a resource for create and
// update requests. Only mutable entities implement it.
type resourceEncoder interface {
	toResource() (jsonapi.Resource, error)
}

// toOneRef extracts a to-one relationship identifier, zero when the
// relationship is absent or null.
func toOneRef(res *jsonapi.Resource, name string) jsonapi.Identifier {
	if rel, ok := res.Relationship(name); ok && rel.One != nil {
		return *rel.One
	}

	return jsonapi.Identifier{}
}

// resolve decodes the referenced resource out of the document's lookup
// table. A missing or undecodable reference is not an error: the weak
// identifier on the entity stays authoritative.
func resolve[T any](doc *jsonapi.Document, ref jsonapi.Identifier) *T {
	if doc == nil || ref.ID == "" {
		return nil
	}

	res, ok := doc.Lookup(ref.Type, ref.ID)
	if !ok {
		return nil
	}

	v := new(T)

	dec, ok := any(v).(resourceDecoder)
	if !ok {
		return nil
	}

	if err := dec.fromResource(res, doc); err != nil {
		return nil
	}

	return v
}

func toOneLinkage(ref jsonapi.Identifier) jsonapi.Relationship {
	id := ref

	return jsonapi.Relationship{One: &id}
}

// User is an account on the backend.
type User struct {
	ID        string `json:"-"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first-name"`
	LastName  string `json:"last-name"`
}

func (User) ResourceType() string { return TypeUsers }

func (u *User) fromResource(res *jsonapi.Resource, _ *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, u); err != nil {
		return fmt.Errorf("decoding user %s: %w", res.ID, err)
	}

	u.ID = res.ID

	return nil
}

// Customer is a billing customer.
type Customer struct {
	ID       string `json:"-"`
	Name     string `json:"name"`
	Archived bool   `json:"archived"`
}

func (Customer) ResourceType() string { return TypeCustomers }

func (c *Customer) fromResource(res *jsonapi.Resource, _ *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, c); err != nil {
		return fmt.Errorf("decoding customer %s: %w", res.ID, err)
	}

	c.ID = res.ID

	return nil
}

// Project belongs to a customer.
type Project struct {
	ID       string `json:"-"`
	Name     string `json:"name"`
	Archived bool   `json:"archived"`

	CustomerRef jsonapi.Identifier `json:"-"`
	Customer    *Customer          `json:"-"`
}

func (Project) ResourceType() string { return TypeProjects }

func (p *Project) fromResource(res *jsonapi.Resource, doc *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, p); err != nil {
		return fmt.Errorf("decoding project %s: %w", res.ID, err)
	}

	p.ID = res.ID
	p.CustomerRef = toOneRef(res, "customer")
	p.Customer = resolve[Customer](doc, p.CustomerRef)

	return nil
}

// Task belongs to a project; activities and reports book time on it.
type Task struct {
	ID       string `json:"-"`
	Name     string `json:"name"`
	Archived bool   `json:"archived"`

	ProjectRef jsonapi.Identifier `json:"-"`
	Project    *Project           `json:"-"`
}

func (Task) ResourceType() string { return TypeTasks }

func (t *Task) fromResource(res *jsonapi.Resource, doc *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, t); err != nil {
		return fmt.Errorf("decoding task %s: %w", res.ID, err)
	}

	t.ID = res.ID
	t.ProjectRef = toOneRef(res, "project")
	t.Project = resolve[Project](doc, t.ProjectRef)

	return nil
}

// Activity is a running or finished tracking block. ToTime is nil while
// the activity is still running.
type Activity struct {
	ID          string  `json:"-"`
	Comment     string  `json:"comment"`
	Date        string  `json:"date"`
	FromTime    string  `json:"from-time"`
	ToTime      *string `json:"to-time"`
	Review      bool    `json:"review"`
	NotBillable bool    `json:"not-billable"`

	UserRef jsonapi.Identifier `json:"-"`
	TaskRef jsonapi.Identifier `json:"-"`
	User    *User              `json:"-"`
	Task    *Task              `json:"-"`
}

func (Activity) ResourceType() string { return TypeActivities }

func (a *Activity) fromResource(res *jsonapi.Resource, doc *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, a); err != nil {
		return fmt.Errorf("decoding activity %s: %w", res.ID, err)
	}

	a.ID = res.ID
	a.UserRef = toOneRef(res, "user")
	a.TaskRef = toOneRef(res, "task")
	a.User = resolve[User](doc, a.UserRef)
	a.Task = resolve[Task](doc, a.TaskRef)

	return nil
}

func (a Activity) toResource() (jsonapi.Resource, error) {
	attrs, err := json.Marshal(a)
	if err != nil {
		return jsonapi.Resource{}, fmt.Errorf("encoding activity: %w", err)
	}

	res := jsonapi.Resource{
		Type:          TypeActivities,
		ID:            a.ID,
		Attributes:    attrs,
		Relationships: map[string]jsonapi.Relationship{},
	}

	if a.UserRef.ID != "" {
		res.Relationships["user"] = toOneLinkage(a.UserRef)
	}

	if a.TaskRef.ID != "" {
		res.Relationships["task"] = toOneLinkage(a.TaskRef)
	}

	return res, nil
}

// Report is a verified, durable booking of time against a task.
type Report struct {
	ID          string `json:"-"`
	Comment     string `json:"comment"`
	Date        string `json:"date"`
	Duration    string `json:"duration"`
	Review      bool   `json:"review"`
	NotBillable bool   `json:"not-billable"`
	Verified    *bool  `json:"verified,omitempty"`
	Billed      *bool  `json:"billed,omitempty"`
	Rejected    *bool  `json:"rejected,omitempty"`

	UserRef       jsonapi.Identifier `json:"-"`
	TaskRef       jsonapi.Identifier `json:"-"`
	VerifiedByRef jsonapi.Identifier `json:"-"`
	User          *User              `json:"-"`
	Task          *Task              `json:"-"`
}

func (Report) ResourceType() string { return TypeReports }

func (r *Report) fromResource(res *jsonapi.Resource, doc *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, r); err != nil {
		return fmt.Errorf("decoding report %s: %w", res.ID, err)
	}

	r.ID = res.ID
	r.UserRef = toOneRef(res, "user")
	r.TaskRef = toOneRef(res, "task")
	r.VerifiedByRef = toOneRef(res, "verified-by")
	r.User = resolve[User](doc, r.UserRef)
	r.Task = resolve[Task](doc, r.TaskRef)

	return nil
}

func (r Report) toResource() (jsonapi.Resource, error) {
	attrs, err := json.Marshal(r)
	if err != nil {
		return jsonapi.Resource{}, fmt.Errorf("encoding report: %w", err)
	}

	res := jsonapi.Resource{
		Type:          TypeReports,
		ID:            r.ID,
		Attributes:    attrs,
		Relationships: map[string]jsonapi.Relationship{},
	}

	if r.UserRef.ID != "" {
		res.Relationships["user"] = toOneLinkage(r.UserRef)
	}

	if r.TaskRef.ID != "" {
		res.Relationships["task"] = toOneLinkage(r.TaskRef)
	}

	return res, nil
}

// Attendance is presence time, independent of task bookings.
type Attendance struct {
	ID       string  `json:"-"`
	Date     string  `json:"date"`
	FromTime string  `json:"from-time"`
	ToTime   *string `json:"to-time"`

	UserRef jsonapi.Identifier `json:"-"`
	User    *User              `json:"-"`
}

func (Attendance) ResourceType() string { return TypeAttendances }

func (a *Attendance) fromResource(res *jsonapi.Resource, doc *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, a); err != nil {
		return fmt.Errorf("decoding attendance %s: %w", res.ID, err)
	}

	a.ID = res.ID
	a.UserRef = toOneRef(res, "user")
	a.User = resolve[User](doc, a.UserRef)

	return nil
}

func (a Attendance) toResource() (jsonapi.Resource, error) {
	attrs, err := json.Marshal(a)
	if err != nil {
		return jsonapi.Resource{}, fmt.Errorf("encoding attendance: %w", err)
	}

	res := jsonapi.Resource{
		Type:          TypeAttendances,
		ID:            a.ID,
		Attributes:    attrs,
		Relationships: map[string]jsonapi.Relationship{},
	}

	if a.UserRef.ID != "" {
		res.Relationships["user"] = toOneLinkage(a.UserRef)
	}

	return res, nil
}

// Absence is a day away from work, categorized by an absence type.
type Absence struct {
	ID      string `json:"-"`
	Date    string `json:"date"`
	Comment string `json:"comment,omitempty"`

	UserRef        jsonapi.Identifier `json:"-"`
	AbsenceTypeRef jsonapi.Identifier `json:"-"`
	User           *User              `json:"-"`
	AbsenceType    *AbsenceType       `json:"-"`
}

func (Absence) ResourceType() string { return TypeAbsences }

func (a *Absence) fromResource(res *jsonapi.Resource, doc *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, a); err != nil {
		return fmt.Errorf("decoding absence %s: %w", res.ID, err)
	}

	a.ID = res.ID
	a.UserRef = toOneRef(res, "user")
	a.AbsenceTypeRef = toOneRef(res, "absence-type")
	a.User = resolve[User](doc, a.UserRef)
	a.AbsenceType = resolve[AbsenceType](doc, a.AbsenceTypeRef)

	return nil
}

func (a Absence) toResource() (jsonapi.Resource, error) {
	attrs, err := json.Marshal(a)
	if err != nil {
		return jsonapi.Resource{}, fmt.Errorf("encoding absence: %w", err)
	}

	res := jsonapi.Resource{
		Type:          TypeAbsences,
		ID:            a.ID,
		Attributes:    attrs,
		Relationships: map[string]jsonapi.Relationship{},
	}

	if a.UserRef.ID != "" {
		res.Relationships["user"] = toOneLinkage(a.UserRef)
	}

	if a.AbsenceTypeRef.ID != "" {
		res.Relationships["absence-type"] = toOneLinkage(a.AbsenceTypeRef)
	}

	return res, nil
}

// AbsenceType categorizes absences (vacation, sickness, ...).
// FillWorktime marks types that count as worked time.
type AbsenceType struct {
	ID           string `json:"-"`
	Name         string `json:"name"`
	FillWorktime bool   `json:"fill-worktime"`
}

func (AbsenceType) ResourceType() string { return TypeAbsenceTypes }

func (a *AbsenceType) fromResource(res *jsonapi.Resource, _ *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, a); err != nil {
		return fmt.Errorf("decoding absence type %s: %w", res.ID, err)
	}

	a.ID = res.ID

	return nil
}

// WorktimeBalance is the server-computed overtime balance at a date,
// encoded as a duration string.
type WorktimeBalance struct {
	ID      string `json:"-"`
	Date    string `json:"date"`
	Balance string `json:"balance"`

	UserRef jsonapi.Identifier `json:"-"`
	User    *User              `json:"-"`
}

func (WorktimeBalance) ResourceType() string { return TypeWorktimeBalances }

func (w *WorktimeBalance) fromResource(res *jsonapi.Resource, doc *jsonapi.Document) error {
	if err := json.Unmarshal(res.Attributes, w); err != nil {
		return fmt.Errorf("decoding worktime balance %s: %w", res.ID, err)
	}

	w.ID = res.ID
	w.UserRef = toOneRef(res, "user")
	w.User = resolve[User](doc, w.UserRef)

	return nil
}
