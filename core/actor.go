package core

// Actor is the authenticated identity a request acts as.
// It is extracted from the auth token at the transport boundary;
// the core never loads or verifies accounts itself.
type Actor struct {
	ID        string
	Name      string
	Email     string
	IsStudent bool
	IsTeacher bool
	IsAdmin   bool
}
