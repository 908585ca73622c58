package model

// Identity is the verified user behind a connection, supplied by the
// transport-establishment layer and trusted as-is by the hub.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Valid reports whether the identity carries a user id.
func (i Identity) Valid() bool {
	return i.UserID != ""
}
