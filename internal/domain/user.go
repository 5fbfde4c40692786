package domain

import "go.mongodb.org/mongo-driver/bson/primitive"

// User represents a registered account. Password holds the bcrypt hash, never plaintext.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Username string             `bson:"username"`
	Password string             `bson:"password"`
	Email    string             `bson:"email"`
	Gender   string             `bson:"gender"`
	Name     string             `bson:"name"`
	Photo    string             `bson:"photo"`
}

// Profile is the password-free projection of a user carried in bearer tokens.
type Profile struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Name     string `json:"name,omitempty"`
	Photo    string `json:"photo,omitempty"`
}

// Profile strips the password from the user.
func (u User) Profile() Profile {
	id := ""
	if !u.ID.IsZero() {
		id = u.ID.Hex()
	}
	return Profile{
		ID:       id,
		Username: u.Username,
		Email:    u.Email,
		Gender:   u.Gender,
		Name:     u.Name,
		Photo:    u.Photo,
	}
}
