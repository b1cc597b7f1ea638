package sessions

import "time"

// Session is the server-readable mirror of the client's "token" cookie,
// stored under the session id so server-side rendering can authenticate.
type Session struct {
	ID        string    `bson:"_id" json:"id"`
	Token     string    `bson:"token" json:"token"`
	Sub       string    `bson:"sub,omitempty" json:"sub,omitempty"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
