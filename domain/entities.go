package domain

import (
	"strings"
	"time"
)

// Entity is implemented by every document type kept in a collection. Optional
// fields are omitted from JSON when unset, and fields whose zero value carries
// meaning are pointers, so a stored document encodes with the fields it holds.
type Entity interface {
	EntityID() ID
	SetEntityID(ID)
	Validate() error
}

type Article struct {
	ID            ID         `json:"id" bson:"_id,omitempty"`
	Name          string     `json:"name" bson:"name"`
	ArticleNumber string     `json:"articleNumber,omitempty" bson:"articleNumber"`
	Manufacturer  string     `json:"manufacturer,omitempty" bson:"manufacturer"`
	Barcode       string     `json:"barcode,omitempty" bson:"barcode"`
	Unit          string     `json:"unit,omitempty" bson:"unit"`
	Quantity      *float64   `json:"quantity,omitempty" bson:"quantity"`
	MinQuantity   float64    `json:"minQuantity,omitempty" bson:"minQuantity"`
	Price         float64    `json:"price,omitempty" bson:"price"`
	LocationID    ID         `json:"locationId,omitempty" bson:"locationId"`
	WholesalerID  ID         `json:"wholesalerId,omitempty" bson:"wholesalerId"`
	ImageURL      string     `json:"imageUrl,omitempty" bson:"imageUrl"`
	Notes         string     `json:"notes,omitempty" bson:"notes"`
	Attributes    Blob       `json:"attributes,omitempty" bson:"attributes"`
	CreatedAt     *time.Time `json:"createdAt,omitempty" bson:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty" bson:"updatedAt"`
}

func (a *Article) EntityID() ID      { return a.ID }
func (a *Article) SetEntityID(id ID) { a.ID = id }

func (a *Article) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ValidationError{Field: "name", Reason: "is required"}
	}
	if a.Quantity != nil && *a.Quantity < 0 {
		return ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if a.MinQuantity < 0 {
		return ValidationError{Field: "minQuantity", Reason: "must not be negative"}
	}
	if a.Price < 0 {
		return ValidationError{Field: "price", Reason: "must not be negative"}
	}
	return nil
}

// LowStock reports whether the stock is at or below the configured minimum.
// An article without a recorded quantity is never low.
func (a *Article) LowStock() bool {
	return a.Quantity != nil && a.MinQuantity > 0 && *a.Quantity <= a.MinQuantity
}

const (
	MachineAvailable   = "available"
	MachineInUse       = "in-use"
	MachineMaintenance = "maintenance"
	MachineRetired     = "retired"
)

type Machine struct {
	ID              ID         `json:"id" bson:"_id,omitempty"`
	Name            string     `json:"name" bson:"name"`
	SerialNumber    string     `json:"serialNumber,omitempty" bson:"serialNumber"`
	Status          string     `json:"status,omitempty" bson:"status"`
	LocationID      ID         `json:"locationId,omitempty" bson:"locationId"`
	AssignedTo      ID         `json:"assignedTo,omitempty" bson:"assignedTo"`
	LastMaintenance *time.Time `json:"lastMaintenance,omitempty" bson:"lastMaintenance"`
	NextMaintenance *time.Time `json:"nextMaintenance,omitempty" bson:"nextMaintenance"`
	Notes           string     `json:"notes,omitempty" bson:"notes"`
	Specs           Blob       `json:"specs,omitempty" bson:"specs"`
}

func (m *Machine) EntityID() ID      { return m.ID }
func (m *Machine) SetEntityID(id ID) { m.ID = id }

func (m *Machine) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return ValidationError{Field: "name", Reason: "is required"}
	}
	if m.Status == "" {
		m.Status = MachineAvailable
	}
	switch m.Status {
	case MachineAvailable, MachineInUse, MachineMaintenance, MachineRetired:
	default:
		return ValidationError{Field: "status", Reason: "unknown status " + m.Status}
	}
	return nil
}

const (
	OrderDraft     = "draft"
	OrderOrdered   = "ordered"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

type OrderItem struct {
	ArticleID ID      `json:"articleId,omitempty" bson:"articleId"`
	Name      string  `json:"name" bson:"name"`
	Quantity  float64 `json:"quantity" bson:"quantity"`
	Unit      string  `json:"unit,omitempty" bson:"unit"`
	Price     float64 `json:"price,omitempty" bson:"price"`
}

type Order struct {
	ID           ID          `json:"id" bson:"_id,omitempty"`
	OrderNumber  string      `json:"orderNumber,omitempty" bson:"orderNumber"`
	WholesalerID ID          `json:"wholesalerId,omitempty" bson:"wholesalerId"`
	Status       string      `json:"status,omitempty" bson:"status"`
	Items        []OrderItem `json:"items,omitempty" bson:"items"`
	OrderedBy    ID          `json:"orderedBy,omitempty" bson:"orderedBy"`
	OrderedAt    *time.Time  `json:"orderedAt,omitempty" bson:"orderedAt"`
	DeliveredAt  *time.Time  `json:"deliveredAt,omitempty" bson:"deliveredAt"`
	Notes        string      `json:"notes,omitempty" bson:"notes"`
}

func (o *Order) EntityID() ID      { return o.ID }
func (o *Order) SetEntityID(id ID) { o.ID = id }

func (o *Order) Validate() error {
	if o.Status == "" {
		o.Status = OrderDraft
	}
	switch o.Status {
	case OrderDraft, OrderOrdered, OrderDelivered, OrderCancelled:
	default:
		return ValidationError{Field: "status", Reason: "unknown status " + o.Status}
	}
	if o.Items == nil {
		o.Items = []OrderItem{}
	}
	for _, it := range o.Items {
		if strings.TrimSpace(it.Name) == "" && it.ArticleID == "" {
			return ValidationError{Field: "items", Reason: "item needs a name or article"}
		}
		if it.Quantity <= 0 {
			return ValidationError{Field: "items", Reason: "item quantity must be positive"}
		}
	}
	return nil
}

// Total sums price times quantity over all lines.
func (o *Order) Total() float64 {
	var total float64
	for _, it := range o.Items {
		total += it.Price * it.Quantity
	}
	return total
}

type Wholesaler struct {
	ID             ID     `json:"id" bson:"_id,omitempty"`
	Name           string `json:"name" bson:"name"`
	CustomerNumber string `json:"customerNumber,omitempty" bson:"customerNumber"`
	ContactPerson  string `json:"contactPerson,omitempty" bson:"contactPerson"`
	Email          string `json:"email,omitempty" bson:"email"`
	Phone          string `json:"phone,omitempty" bson:"phone"`
	Website        string `json:"website,omitempty" bson:"website"`
	Address        string `json:"address,omitempty" bson:"address"`
}

func (w *Wholesaler) EntityID() ID      { return w.ID }
func (w *Wholesaler) SetEntityID(id ID) { w.ID = id }

func (w *Wholesaler) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return ValidationError{Field: "name", Reason: "is required"}
	}
	if w.Email != "" && !strings.Contains(w.Email, "@") {
		return ValidationError{Field: "email", Reason: "is not an address"}
	}
	return nil
}

const (
	LocationWarehouse = "warehouse"
	LocationVehicle   = "vehicle"
	LocationSite      = "site"
)

type Location struct {
	ID          ID     `json:"id" bson:"_id,omitempty"`
	Name        string `json:"name" bson:"name"`
	Type        string `json:"type,omitempty" bson:"type"`
	Description string `json:"description,omitempty" bson:"description"`
	ParentID    ID     `json:"parentId,omitempty" bson:"parentId"`
}

func (l *Location) EntityID() ID      { return l.ID }
func (l *Location) SetEntityID(id ID) { l.ID = id }

func (l *Location) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return ValidationError{Field: "name", Reason: "is required"}
	}
	if l.Type == "" {
		l.Type = LocationWarehouse
	}
	switch l.Type {
	case LocationWarehouse, LocationVehicle, LocationSite:
	default:
		return ValidationError{Field: "type", Reason: "unknown location type " + l.Type}
	}
	if l.ParentID != "" && l.ParentID == l.ID {
		return ValidationError{Field: "parentId", Reason: "must not reference itself"}
	}
	return nil
}

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID      ID     `json:"id" bson:"_id,omitempty"`
	Name    string `json:"name" bson:"name"`
	Email   string `json:"email,omitempty" bson:"email"`
	Role    string `json:"role,omitempty" bson:"role"`
	Active  *bool  `json:"active,omitempty" bson:"active"`
	Subject string `json:"subject,omitempty" bson:"subject"`
}

func (u *User) EntityID() ID      { return u.ID }
func (u *User) SetEntityID(id ID) { u.ID = id }

func (u *User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return ValidationError{Field: "name", Reason: "is required"}
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Role != RoleAdmin && u.Role != RoleUser {
		return ValidationError{Field: "role", Reason: "unknown role " + u.Role}
	}
	return nil
}

// AppSettings is the single settings document of the installation.
type AppSettings struct {
	ID                ID      `json:"id" bson:"_id,omitempty"`
	CompanyName       string  `json:"companyName,omitempty" bson:"companyName"`
	DefaultLocationID ID      `json:"defaultLocationId,omitempty" bson:"defaultLocationId"`
	LowStockWarnings  *bool   `json:"lowStockWarnings,omitempty" bson:"lowStockWarnings"`
	Currency          string  `json:"currency,omitempty" bson:"currency"`
	VATRate           float64 `json:"vatRate,omitempty" bson:"vatRate"`
	AIAssistEnabled   *bool   `json:"aiAssistEnabled,omitempty" bson:"aiAssistEnabled"`
	Preferences       Blob    `json:"preferences,omitempty" bson:"preferences"`
}

func (s *AppSettings) EntityID() ID      { return s.ID }
func (s *AppSettings) SetEntityID(id ID) { s.ID = id }

func (s *AppSettings) Validate() error {
	if s.VATRate < 0 || s.VATRate > 1 {
		return ValidationError{Field: "vatRate", Reason: "must be a fraction between 0 and 1"}
	}
	if s.Currency == "" {
		s.Currency = "EUR"
	}
	return nil
}

// Ptr returns a pointer to v, for the optional entity fields.
func Ptr[T any](v T) *T { return &v }
