package timed

import (
	"net/url"
	"strings"
)

// CurrentUser is a sentinel for the User filter; the client substitutes
// the authenticated subject before sending the request.
const CurrentUser = "@me"

// flag serializes a tri-state boolean filter: the backend expects "0"
// or "1", absence meaning both.
func flag(v bool) string {
	if v {
		return "1"
	}

	return "0"
}

// Filters narrows a list request. Zero values mean no constraint; the
// pointer fields are tri-state (nil = both). Keys the struct does not
// model pass through Extra verbatim.
type Filters struct {
	// Date matches one day exactly.
	Date string

	// FromDate and ToDate bound an inclusive date range.
	FromDate string
	ToDate   string

	// User filters by owning user ID. CurrentUser resolves to the
	// authenticated subject.
	User string

	// Task, Project, and Customer filter by related resource ID.
	Task     string
	Project  string
	Customer string

	Archived *bool
	Active   *bool
	Review   *bool

	// Billable maps onto the backend's inverted not_billable parameter.
	Billable *bool

	// Include names related resources to sideload, e.g.
	// "task.project.customer".
	Include []string

	// Extra passes unmodeled parameters through untouched.
	Extra map[string]string
}

// Values builds the canonical query. subject replaces the CurrentUser
// sentinel.
func (f Filters) Values(subject string) url.Values {
	q := url.Values{}

	if f.Date != "" {
		q.Set("date", f.Date)
	}

	if f.FromDate != "" {
		q.Set("from_date", f.FromDate)
	}

	if f.ToDate != "" {
		q.Set("to_date", f.ToDate)
	}

	if f.User != "" {
		user := f.User
		if user == CurrentUser {
			user = subject
		}

		q.Set("user", user)
	}

	if f.Task != "" {
		q.Set("task", f.Task)
	}

	if f.Project != "" {
		q.Set("project", f.Project)
	}

	if f.Customer != "" {
		q.Set("customer", f.Customer)
	}

	if f.Archived != nil {
		q.Set("archived", flag(*f.Archived))
	}

	if f.Active != nil {
		q.Set("active", flag(*f.Active))
	}

	if f.Review != nil {
		q.Set("review", flag(*f.Review))
	}

	if f.Billable != nil {
		q.Set("not_billable", flag(!*f.Billable))
	}

	if len(f.Include) > 0 {
		q.Set("include", strings.Join(f.Include, ","))
	}

	for k, v := range f.Extra {
		q.Set(k, v)
	}

	return q
}

// Bool is a convenience for the tri-state filter fields.
func Bool(v bool) *bool { return &v }
