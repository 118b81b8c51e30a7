package model

import (
	"time"

	"PPost/tools/geo"
)

// Status is the aging state of a reported checkpoint.
type Status string

const (
	StatusCreated             Status = "created"
	StatusConfirmed           Status = "confirmed"
	StatusWeaklyUnconfirmed   Status = "weakly_unconfirmed"
	StatusStronglyUnconfirmed Status = "strongly_unconfirmed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusConfirmed, StatusWeaklyUnconfirmed, StatusStronglyUnconfirmed:
		return true
	}
	return false
}

// Description is the human-readable label the front-end shows for s.
func (s Status) Description() string {
	switch s {
	case StatusCreated:
		return "Reported"
	case StatusConfirmed:
		return "Confirmed"
	case StatusWeaklyUnconfirmed:
		return "Not confirmed recently"
	case StatusStronglyUnconfirmed:
		return "Not confirmed for a long time"
	}
	return string(s)
}

// Vote is one confirmation of a point.
type Vote struct {
	At time.Time `bson:"at" json:"at"`
	By string    `bson:"by" json:"by"`
}

// Point is a reported roadside checkpoint. ID, coordinates and creator are
// immutable; Status, CheckAt and Votes change through the lifecycle only.
type Point struct {
	ID            string     `bson:"_id" json:"id"`
	Status        Status     `bson:"status" json:"status"`
	CreatedBy     string     `bson:"createdBy" json:"createdBy"`
	CreatedByName string     `bson:"createdByName,omitempty" json:"createdByName,omitempty"`
	CreatedAt     time.Time  `bson:"createdAt" json:"createdAt"`
	Latitude      float64    `bson:"latitude" json:"latitude"`
	Longitude     float64    `bson:"longitude" json:"longitude"`
	Description   string     `bson:"description,omitempty" json:"description,omitempty"`
	Medical       bool       `bson:"medical" json:"medical"`
	CheckAt       time.Time  `bson:"checkAt" json:"checkAt"`
	Votes         []Vote     `bson:"votes" json:"votes"`
	VotedAt       *time.Time `bson:"votedAt,omitempty" json:"votedAt,omitempty"`
}

func (p *Point) Coord() geo.Coord {
	return geo.Coord{Latitude: p.Latitude, Longitude: p.Longitude}
}

// HasVoteFrom reports whether subject already confirmed p.
func (p *Point) HasVoteFrom(subject string) bool {
	for _, v := range p.Votes {
		if v.By == subject {
			return true
		}
	}
	return false
}

// NearbyPoint is a point together with its distance in meters from a query origin.
type NearbyPoint struct {
	Point    Point   `json:"point"`
	Distance float64 `json:"distance"`
}

// IDs returns the point ids of ps in order.
func IDs(ps []NearbyPoint) []string {
	out := make([]string, len(ps))
	for i := range ps {
		out[i] = ps[i].Point.ID
	}
	return out
}
