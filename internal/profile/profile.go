package profile

import "time"

// Profile is the durable per-user record, keyed by the user's email.
type Profile struct {
	ID               string     `bson:"_id,omitempty" json:"id"`
	Email            string     `bson:"email" json:"email"`
	FirstName        string     `bson:"firstName,omitempty" json:"firstName,omitempty"`
	LastName         string     `bson:"lastName,omitempty" json:"lastName,omitempty"`
	Phone            string     `bson:"phone,omitempty" json:"phone,omitempty"`
	Timezone         string     `bson:"timezone,omitempty" json:"timezone,omitempty"`
	ReferralCode     string     `bson:"referralCode,omitempty" json:"referralCode,omitempty"`
	EmailVerified    bool       `bson:"emailVerified" json:"emailVerified"`
	RefreshTokenTime *time.Time `bson:"refreshTokenTime,omitempty" json:"refreshTokenTime,omitempty"`
	Badges           []string   `bson:"badges,omitempty" json:"badges,omitempty"`
	TalentPools      []string   `bson:"talentPools,omitempty" json:"talentPools,omitempty"`
	GroupIDs         []string   `bson:"groupIds,omitempty" json:"groupIds,omitempty"`
	IsAdmin          bool       `bson:"isAdmin" json:"isAdmin"`
	CreatedAt        time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// MissingRequired lists the required fields that are empty on p.
func (p *Profile) MissingRequired() []string {
	var missing []string
	if p.ReferralCode == "" {
		missing = append(missing, "referralCode")
	}
	if p.Timezone == "" {
		missing = append(missing, "timezone")
	}
	if !p.EmailVerified {
		missing = append(missing, "emailVerified")
	}
	return missing
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.RefreshTokenTime != nil {
		t := *p.RefreshTokenTime
		c.RefreshTokenTime = &t
	}
	c.Badges = append([]string(nil), p.Badges...)
	c.TalentPools = append([]string(nil), p.TalentPools...)
	c.GroupIDs = append([]string(nil), p.GroupIDs...)
	return &c
}

// Stats holds the per-user engagement and reward counters.
type Stats struct {
	ID               string    `bson:"_id,omitempty" json:"id"`
	EventsAttended   int       `bson:"eventsAttended" json:"eventsAttended"`
	EventsRegistered int       `bson:"eventsRegistered" json:"eventsRegistered"`
	MinutesWatched   int       `bson:"minutesWatched" json:"minutesWatched"`
	Points           int       `bson:"points" json:"points"`
	Referrals        int       `bson:"referrals" json:"referrals"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (s *Stats) Clone() *Stats {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
