package school

// Student is the identity the portal returns on login.
type Student struct {
	// ID is the numeric identifier used in endpoint paths.
	ID string `json:"id"`
	// Ident is the raw portal identifier, e.g. "S1234567X".
	Ident     string `json:"ident"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
