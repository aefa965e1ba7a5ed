package y360

import (
	"github.com/alavret/sync-deps-from-hub-v2/pkg/directory"
)

// departmentsPage is one page of the departments listing.
type departmentsPage struct {
	Departments []directory.Department `json:"departments"`
	Page        int                    `json:"page"`
	Pages       int                    `json:"pages"`
	PerPage     int                    `json:"perPage"`
	Total       int                    `json:"total"`
}

// apiUser is the wire shape of one account record.
type apiUser struct {
	ID           string       `json:"id"`
	Nickname     string       `json:"nickname"`
	Email        string       `json:"email"`
	Aliases      []string     `json:"aliases"`
	Contacts     []apiContact `json:"contacts"`
	DepartmentID int64        `json:"departmentId"`
	IsRobot      bool         `json:"isRobot"`
	IsEnabled    bool         `json:"isEnabled"`
}

// apiContact is one entry of a user's contact list.
type apiContact struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// usersPage is one page of the users listing.
type usersPage struct {
	Users   []apiUser `json:"users"`
	Page    int       `json:"page"`
	Pages   int       `json:"pages"`
	PerPage int       `json:"perPage"`
	Total   int       `json:"total"`
}

// toUser flattens the wire record into the engine's user shape. Email
// contacts are carried separately so alias matching can fall back to them.
func (u apiUser) toUser() directory.User {
	out := directory.User{
		ID:           u.ID,
		Nickname:     u.Nickname,
		Email:        u.Email,
		Aliases:      u.Aliases,
		DepartmentID: u.DepartmentID,
		IsRobot:      u.IsRobot,
	}
	for _, c := range u.Contacts {
		if c.Type == "email" && c.Value != "" {
			out.ContactEmails = append(out.ContactEmails, c.Value)
		}
	}
	return out
}
