package domain

import "time"

// Nombres de colecciones del document store.
const (
	UsersCollection     = "users"
	AddressesCollection = "addresses"
)

type User struct {
	FirstName   string    `json:"firstName"`
	LastName    string    `json:"lastName"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phoneNumber"`
	ExternalID  string    `json:"externalId"`
	Slug        string    `json:"slug"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Address pertenece a un User a traves de una referencia por slug.
type Address struct {
	Address   string    `json:"address"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Country   string    `json:"country"`
	Slug      string    `json:"slug"`
	User      *Ref      `json:"users,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserProfile es el User con su Address embebida bajo "address".
type UserProfile struct {
	User
	Address Address `json:"address"`
}

// Identity es la identidad verificada del request; no se persiste.
type Identity struct {
	Email      string `json:"email"`
	ExternalID string `json:"externalId"`
}
