package model

import "time"

// ClientStatus marks a client as a fresh lead or an established contact.
type ClientStatus string

const (
	ClientStatusNew ClientStatus = "NEW"
	ClientStatusOld ClientStatus = "OLD"
)

// Client is one addressable contact in the messaging CRM.
type Client struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Name      string       `json:"name,omitempty"`
	Status    ClientStatus `json:"status"`
	RegionID  string       `json:"region_id,omitempty"`
	Phones    []string     `json:"phones"`
	GroupIDs  []string     `json:"group_ids,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// HasPhone reports whether the client already carries the normalized phone.
func (c *Client) HasPhone(phone string) bool {
	for _, p := range c.Phones {
		if p == phone {
			return true
		}
	}
	return false
}

// Region is a geographic bucket for clients, unique per owner by folded name.
type Region struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Group is a messaging audience a client can belong to.
type Group struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
