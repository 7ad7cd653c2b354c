package store

// Author is the persisted author record. Association edges live in the
// author_document join table and are loaded separately.
type Author struct {
	ID        int64
	FirstName string
	LastName  string
}

// Document is the persisted document record. Authorship and reference edges
// live in the author_document and document_reference join tables.
type Document struct {
	ID    int64
	Title string
	Body  string
}

type User struct {
	ID           int64
	FirstName    string
	LastName     string
	Username     string
	PasswordHash string
	Role         string
}
