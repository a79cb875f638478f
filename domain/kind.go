package domain

import "fmt"

// Kind binds a public collection name to its MongoDB collection and entity
// type. The public name is used both as REST path segment and as broadcast
// channel.
type Kind struct {
	Name       string
	Collection string
	New        func() Entity
}

const (
	Articles    = "articles"
	Machines    = "machines"
	Users       = "users"
	Locations   = "locations"
	Wholesalers = "wholesalers"
	Orders      = "orders"
	Settings    = "app-settings"
)

var kinds = []Kind{
	{Name: Articles, Collection: "articles", New: func() Entity { return &Article{} }},
	{Name: Machines, Collection: "machines", New: func() Entity { return &Machine{} }},
	{Name: Users, Collection: "users", New: func() Entity { return &User{} }},
	{Name: Locations, Collection: "locations", New: func() Entity { return &Location{} }},
	{Name: Wholesalers, Collection: "wholesalers", New: func() Entity { return &Wholesaler{} }},
	{Name: Orders, Collection: "orders", New: func() Entity { return &Order{} }},
	{Name: Settings, Collection: "appsettings", New: func() Entity { return &AppSettings{} }},
}

// Kinds returns all known collections in a stable order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// KindByName looks up a collection by its public name.
func KindByName(name string) (Kind, error) {
	for _, k := range kinds {
		if k.Name == name {
			return k, nil
		}
	}
	return Kind{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
}

// KindByCollection looks up a collection by its MongoDB collection name.
func KindByCollection(coll string) (Kind, error) {
	for _, k := range kinds {
		if k.Collection == coll {
			return k, nil
		}
	}
	return Kind{}, fmt.Errorf("%w: %s", ErrUnknownCollection, coll)
}
