// Package models defines the record types persisted through the object store.
// Each type declares its partition once; the settings are shared read-only.
package models

import (
	"github.com/dmitrijs2005/gridstore/internal/cryptox"
	"github.com/dmitrijs2005/gridstore/internal/store"
)

type Role string

const (
	RoleGuest         Role = "guest"
	RoleDataScientist Role = "data_scientist"
	RoleDataOwner     Role = "data_owner"
	RoleAdmin         Role = "admin"
)

var (
	UserEmailKey = store.PartitionKey{Key: "email", Type: store.KeyTypeString}
	UserNameKey  = store.PartitionKey{Key: "name", Type: store.KeyTypeString}
	UserRoleKey  = store.PartitionKey{Key: "role", Type: store.KeyTypeString}
)

var UserSettings = store.PartitionSettings{
	Name:           "User",
	ObjectType:     "models.User",
	Version:        1,
	SearchableKeys: []store.PartitionKey{UserEmailKey, UserNameKey, UserRoleKey},
	UniqueKeys:     []store.PartitionKey{UserEmailKey},
}

type User struct {
	store.Base
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           Role   `json:"role"`
	HashedPassword []byte `json:"hashed_password,omitempty"`
	Salt           []byte `json:"salt,omitempty"`
}

func NewUser() *User { return &User{} }

func (u *User) PartitionValue(key string) (any, bool) {
	switch key {
	case UserEmailKey.Key:
		return u.Email, true
	case UserNameKey.Key:
		return u.Name, true
	case UserRoleKey.Key:
		return string(u.Role), true
	}
	return u.Base.PartitionValue(key)
}

// SetPassword replaces the stored hash with one derived from password.
func (u *User) SetPassword(password string) error {
	hash, salt, err := cryptox.HashPassword(password)
	if err != nil {
		return err
	}
	u.HashedPassword, u.Salt = hash, salt
	return nil
}

func (u *User) CheckPassword(password string) bool {
	return cryptox.CheckPassword(password, u.HashedPassword, u.Salt)
}
