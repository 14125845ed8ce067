package realtime

import (
	"encoding/json"
	"fmt"
)

// Wire frame type discriminators
const (
	// client -> server
	TypeAuth            = "auth"
	TypeSubscribeOrder  = "subscribe_order"
	TypeCourierLocation = "courier_location"
	TypeOrderStatus     = "order_status"
	TypePing            = "ping"

	// server -> client
	TypeAuthSuccess    = "auth_success"
	TypeSubscribed     = "subscribed"
	TypeLocationUpdate = "location_update"
	TypeStatusUpdate   = "status_update"
	TypeOrderCancelled = "order_cancelled"
	TypeError          = "error"
	TypePong           = "pong"
)

// Client frames

// AuthFrame authenticates the connection with the bearer token
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// SubscribeOrderFrame registers interest in one order's updates
type SubscribeOrderFrame struct {
	Type    string `json:"type"`
	OrderID int64  `json:"orderId"`
}

// CourierLocationFrame carries one outbound location sample
type CourierLocationFrame struct {
	Type      string   `json:"type"`
	OrderID   int64    `json:"orderId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// OrderStatusFrame carries an outbound status transition
type OrderStatusFrame struct {
	Type    string `json:"type"`
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

// PingFrame is the heartbeat
type PingFrame struct {
	Type string `json:"type"`
}

// Server frames form a closed union; the decoder matches exhaustively and
// rejects unknown discriminators with UnknownFrameError.

// ServerFrame is implemented by every inbound frame kind
type ServerFrame interface {
	frameType() string
}

// AuthSuccessFrame confirms authentication
type AuthSuccessFrame struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// SubscribedFrame acknowledges a subscription
type SubscribedFrame struct {
	OrderID int64 `json:"orderId"`
}

// LocationUpdateFrame is a courier position update for an order
type LocationUpdateFrame struct {
	OrderID   int64    `json:"orderId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// StatusUpdateFrame is a delivery status transition for an order
type StatusUpdateFrame struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

// OrderCancelledFrame signals the order was cancelled
type OrderCancelledFrame struct {
	OrderID int64  `json:"orderId"`
	Reason  string `json:"reason,omitempty"`
}

// ErrorFrame is a server-side error report
type ErrorFrame struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// PongFrame answers a ping; no action is required
type PongFrame struct{}

func (*AuthSuccessFrame) frameType() string    { return TypeAuthSuccess }
func (*SubscribedFrame) frameType() string     { return TypeSubscribed }
func (*LocationUpdateFrame) frameType() string { return TypeLocationUpdate }
func (*StatusUpdateFrame) frameType() string   { return TypeStatusUpdate }
func (*OrderCancelledFrame) frameType() string { return TypeOrderCancelled }
func (*ErrorFrame) frameType() string          { return TypeError }
func (*PongFrame) frameType() string           { return TypePong }

// UnknownFrameError reports a discriminator outside the known union
type UnknownFrameError struct {
	Type string
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

// DecodeServerFrame parses one inbound JSON frame into its typed form
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	var frame ServerFrame
	switch head.Type {
	case TypeAuthSuccess:
		frame = &AuthSuccessFrame{}
	case TypeSubscribed:
		frame = &SubscribedFrame{}
	case TypeLocationUpdate:
		frame = &LocationUpdateFrame{}
	case TypeStatusUpdate:
		frame = &StatusUpdateFrame{}
	case TypeOrderCancelled:
		frame = &OrderCancelledFrame{}
	case TypeError:
		frame = &ErrorFrame{}
	case TypePong:
		frame = &PongFrame{}
	default:
		return nil, &UnknownFrameError{Type: head.Type}
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("malformed %s frame: %w", head.Type, err)
	}
	return frame, nil
}
