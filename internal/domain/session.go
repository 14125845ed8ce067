package domain

// UserType distinguishes ordinary customers from couriers
type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeCourier  UserType = "courier"
)

// User represents the authenticated user identity
type User struct {
	ID         string   `json:"id"`
	Phone      string   `json:"phone"`
	FirstName  string   `json:"firstName,omitempty"`
	LastName   string   `json:"lastName,omitempty"`
	MiddleName string   `json:"middleName,omitempty"`
	Email      string   `json:"email,omitempty"`
	BirthDate  string   `json:"birthDate,omitempty"`
	Gender     string   `json:"gender,omitempty"`
	UserType   UserType `json:"userType,omitempty"`
}

// Session represents the authenticated identity.
// IsLoggedIn holds iff both Token and User.ID are non-empty; the session
// manager is the single writer and keeps that invariant.
type Session struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}

// IsLoggedIn reports whether the session is authenticated
func (s *Session) IsLoggedIn() bool {
	return s != nil && s.Token != "" && s.User != nil && s.User.ID != ""
}

// AdminRole is the employee role attached to an admin profile
type AdminRole string

const (
	AdminRoleAdmin    AdminRole = "admin"
	AdminRoleManager  AdminRole = "manager"
	AdminRoleDirector AdminRole = "director"
)

// AdminProfile is the employee overlay on a session
type AdminProfile struct {
	ID      string    `json:"id"`
	StoreID *string   `json:"storeId,omitempty"`
	Role    AdminRole `json:"role"`
}

// CourierProfile is the courier overlay on a session
type CourierProfile struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Phone           string  `json:"phone"`
	VehicleType     string  `json:"vehicleType"`
	VehicleModel    string  `json:"vehicleModel,omitempty"`
	VehicleNumber   string  `json:"vehicleNumber,omitempty"`
	Rating          float64 `json:"rating"`
	CompletedOrders int     `json:"completedOrders"`
	IsOnline        bool    `json:"isOnline"`
}
