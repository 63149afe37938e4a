package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.GenerateStaffToken("staff-1", "L1", RoleStaff)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", claims.StaffID)
	assert.Equal(t, "L1", claims.LocationID)
	assert.Equal(t, RoleStaff, claims.Role)
}

func TestManager_RejectsForeignSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).GenerateStaffToken("staff-1", "L1", RoleStaff)
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestManager_RejectsUnknownRole(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.GenerateStaffToken("staff-1", "L1", "customer")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestManager_RejectsExpiredToken(t *testing.T) {
	m := &Manager{secret: []byte("test-secret"), ttl: -time.Minute}

	token, err := m.GenerateStaffToken("staff-1", "L1", RoleStaff)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}
