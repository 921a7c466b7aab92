package model

type RoomMember struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

func (m RoomMember) Author() Author {
	return Author{ID: m.ID, FirstName: m.FirstName, LastName: m.LastName, Username: m.Username}
}

// MembersPage holds one loaded window of a room's member list. Items
// is appended to (not replaced) when loading more pages.
type MembersPage struct {
	Items   []RoomMember `json:"members"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	Limit   int          `json:"limit"`
	HasMore bool         `json:"hasMore"`
}
