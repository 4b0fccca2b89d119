package domain

import (
	"context"
	"time"
)

// User is the authenticated caller. Name/email/phone also feed the
// customer details sent with a gateway charge.
type User struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	FirebaseUID string    `bson:"firebase_uid,omitempty" json:"firebase_uid,omitempty"`
	Email       string    `bson:"email" json:"email"`
	Name        string    `bson:"name" json:"name"`
	Phone       string    `bson:"phone,omitempty" json:"phone,omitempty"`
	CreatedAt   time.Time `bson:"created_at,omitempty" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at,omitempty" json:"updated_at"`
}

// UserRepository defines operations for managing users
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByFirebaseUID(ctx context.Context, uid string) (*User, error)
}
