package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is the part a user plays in the garage.
type Role string

const (
	RoleClient   Role = "client"
	RoleMechanic Role = "mechanic"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleMechanic, RoleAdmin:
		return true
	default:
		return false
	}
}

// User is the profile of an authenticated person. Fields the server sends
// that are not modeled here are kept in Extra and written back unchanged.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	PasswordHash string    `json:"-"`

	Extra map[string]json.RawMessage `json:"-"`
}

// userFields mirrors User without its methods so the JSON codec can be reused.
type userFields User

// MarshalJSON writes the modeled fields followed by Extra. An Extra entry
// under a modeled key is written only while that field is unset, so values
// that could not be decoded survive a round trip.
func (u User) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(userFields(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return known, nil
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(known, &out); err != nil {
		return nil, err
	}
	for k, v := range u.Extra {
		if _, ok := out[k]; ok && u.isSet(k) {
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the modeled fields and keeps everything else in Extra.
// A modeled field whose value has an unexpected shape lands in Extra as well.
// Numeric ids are accepted and kept in their decimal form.
func (u *User) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*u = User{}
	for k, v := range all {
		if u.decodeField(k, v) {
			continue
		}
		if u.Extra == nil {
			u.Extra = make(map[string]json.RawMessage)
		}
		u.Extra[k] = v
	}
	return nil
}

func (u *User) decodeField(key string, raw json.RawMessage) bool {
	switch key {
	case "id":
		return decodeID(raw, &u.ID)
	case "name":
		return json.Unmarshal(raw, &u.Name) == nil
	case "email":
		return json.Unmarshal(raw, &u.Email) == nil
	case "phone":
		return json.Unmarshal(raw, &u.Phone) == nil
	case "role":
		return json.Unmarshal(raw, &u.Role) == nil
	case "createdAt":
		return decodeTime(raw, &u.CreatedAt)
	case "updatedAt":
		return decodeTime(raw, &u.UpdatedAt)
	default:
		return false
	}
}

func (u User) isSet(key string) bool {
	switch key {
	case "id":
		return u.ID != ""
	case "name":
		return u.Name != ""
	case "email":
		return u.Email != ""
	case "phone":
		return u.Phone != ""
	case "role":
		return u.Role != ""
	case "createdAt":
		return !u.CreatedAt.IsZero()
	case "updatedAt":
		return !u.UpdatedAt.IsZero()
	default:
		return false
	}
}

func decodeID(raw json.RawMessage, dst *string) bool {
	if json.Unmarshal(raw, dst) == nil {
		return true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return false
	}
	*dst = n.String()
	return true
}

func decodeTime(raw json.RawMessage, dst *time.Time) bool {
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return false
	}
	*dst = t
	return true
}

// Merge returns a copy of u with the top-level keys of patch applied over
// it. Keys absent from patch are left untouched.
func (u User) Merge(patch map[string]any) (User, error) {
	base, err := json.Marshal(u)
	if err != nil {
		return User{}, fmt.Errorf("encode user: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	for k, v := range patch {
		data, err := json.Marshal(v)
		if err != nil {
			return User{}, fmt.Errorf("encode field %q: %w", k, err)
		}
		fields[k] = data
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return User{}, fmt.Errorf("encode merged user: %w", err)
	}
	var out User
	if err := json.Unmarshal(merged, &out); err != nil {
		return User{}, fmt.Errorf("decode merged user: %w", err)
	}
	out.PasswordHash = u.PasswordHash
	return out, nil
}
