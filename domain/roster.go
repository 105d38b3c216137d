package domain

import (
	"regexp"
	"strings"
)

// MemberStatus is the availability shown next to a team member.
type MemberStatus string

const (
	StatusActive  MemberStatus = "active"
	StatusBusy    MemberStatus = "busy"
	StatusOffline MemberStatus = "offline"
)

// Member is a person on the project team.
type Member struct {
	ID     int64        `json:"id"`
	Name   string       `json:"name"`
	Role   string       `json:"role"`
	Status MemberStatus `json:"status"`
}

// Department groups members on the team roster.
type Department struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Color   string   `json:"color"`
	Members []Member `json:"members"`
}

// Roster is the team document of a project.
type Roster struct {
	Departments []Department `json:"departments"`
}

// DefaultRoster returns the departments a new project starts with.
func DefaultRoster() Roster {
	return Roster{Departments: []Department{
		{ID: "leadership", Title: "Leadership", Color: "from-purple-500 to-indigo-600", Members: []Member{}},
		{ID: "engineering", Title: "Engineering", Color: "from-blue-500 to-cyan-600", Members: []Member{}},
		{ID: "design", Title: "Design", Color: "from-pink-500 to-rose-600", Members: []Member{}},
	}}
}

var whitespace = regexp.MustCompile(`\s+`)

// DepartmentSlug derives a department id from its title.
func DepartmentSlug(title string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "-")
}

// Clone returns a deep copy of r.
func (r Roster) Clone() Roster {
	out := Roster{Departments: make([]Department, len(r.Departments))}
	for i, d := range r.Departments {
		out.Departments[i] = d
		out.Departments[i].Members = append(make([]Member, 0, len(d.Members)), d.Members...)
	}
	return out
}

// AddDepartment appends a department whose id is the slug of its title.
func AddDepartment(r Roster, title, color string) (Roster, Department, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return r, Department{}, invalid("title", "department title is required")
	}
	d := Department{ID: DepartmentSlug(title), Title: title, Color: color, Members: []Member{}}
	if d.Color == "" {
		d.Color = "from-blue-500 to-cyan-600"
	}
	if r.departmentIndex(d.ID) >= 0 {
		return r, Department{}, invalid("title", "department already exists")
	}
	out := r.Clone()
	out.Departments = append(out.Departments, d)
	return out, d, nil
}

// DeleteDepartment removes a department and its members.
func DeleteDepartment(r Roster, departmentID string) Roster {
	i := r.departmentIndex(departmentID)
	if i < 0 {
		return r
	}
	out := r.Clone()
	out.Departments = append(out.Departments[:i], out.Departments[i+1:]...)
	return out
}

// AddMember appends a member to a department. id is supplied by the caller.
func AddMember(r Roster, departmentID string, id int64, m Member) (Roster, Member, error) {
	if strings.TrimSpace(m.Name) == "" {
		return r, Member{}, invalid("name", "member name is required")
	}
	if m.Status == "" {
		m.Status = StatusActive
	}
	if !m.Status.valid() {
		return r, Member{}, invalid("status", "must be one of active, busy, offline")
	}
	di := r.departmentIndex(departmentID)
	if di < 0 {
		return r, Member{}, nil
	}
	m.ID = id
	out := r.Clone()
	out.Departments[di].Members = append(out.Departments[di].Members, m)
	return out, m, nil
}

// UpdateMember replaces the member with the same id wherever it is.
func UpdateMember(r Roster, m Member) (Roster, error) {
	if strings.TrimSpace(m.Name) == "" {
		return r, invalid("name", "member name is required")
	}
	if m.Status != "" && !m.Status.valid() {
		return r, invalid("status", "must be one of active, busy, offline")
	}
	out := r.Clone()
	for di := range out.Departments {
		for mi, cur := range out.Departments[di].Members {
			if cur.ID == m.ID {
				if m.Status == "" {
					m.Status = cur.Status
				}
				out.Departments[di].Members[mi] = m
			}
		}
	}
	return out, nil
}

// DeleteMember removes the member from every department.
func DeleteMember(r Roster, memberID int64) Roster {
	out := r.Clone()
	for di := range out.Departments {
		members := out.Departments[di].Members[:0]
		for _, m := range out.Departments[di].Members {
			if m.ID != memberID {
				members = append(members, m)
			}
		}
		out.Departments[di].Members = members
	}
	return out
}

// MoveMember relocates a member between departments, mirroring MoveTask.
func MoveMember(r Roster, memberID int64, sourceID, targetID string) Roster {
	if sourceID == targetID {
		return r
	}
	si := r.departmentIndex(sourceID)
	ti := r.departmentIndex(targetID)
	if si < 0 || ti < 0 {
		return r
	}
	var (
		member Member
		found  bool
	)
	for _, m := range r.Departments[si].Members {
		if m.ID == memberID {
			member, found = m, true
			break
		}
	}
	if !found {
		return r
	}
	out := DeleteMember(r, memberID)
	out.Departments[ti].Members = append(out.Departments[ti].Members, member)
	return out
}

func (r Roster) departmentIndex(id string) int {
	for i, d := range r.Departments {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (s MemberStatus) valid() bool {
	switch s {
	case StatusActive, StatusBusy, StatusOffline:
		return true
	}
	return false
}
