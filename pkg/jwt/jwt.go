package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Claims carried by staff tokens issued to front-desk devices
type Claims struct {
	StaffID    string `json:"staff_id"`
	LocationID string `json:"location_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and validates HS256 staff tokens
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// GenerateStaffToken issues a token for a staff member at a location
func (m *Manager) GenerateStaffToken(staffID, locationID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		StaffID:    staffID,
		LocationID: locationID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken parses tokenString and checks signature, expiry and role
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Role != RoleStaff && claims.Role != RoleAdmin {
		return nil, fmt.Errorf("invalid role: %q", claims.Role)
	}

	return claims, nil
}
