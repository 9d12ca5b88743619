package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name        string
		phone       string
		countryCode string
		want        string
	}{
		{"national form", "9876543210", "IN", "9876543210"},
		{"plus prefix", "+919876543210", "IN", "9876543210"},
		{"double zero prefix", "00919876543210", "IN", "9876543210"},
		{"spaces and dashes", "98765 432-10", "IN", "9876543210"},
		{"numeric country code", "+919876543210", "91", "9876543210"},
		{"us number", "+14155552671", "US", "4155552671"},
		{"starts with calling code digits", "9198765432", "IN", "9198765432"},
		{"unknown country keeps digits", "+9876543210", "XX", "9876543210"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.phone, tt.countryCode))
		})
	}
}

func TestNormalizePhoneIsIdempotent(t *testing.T) {
	for _, phone := range []string{"+919876543210", "00919876543210", "9876543210", "+14155552671"} {
		for _, cc := range []string{"IN", "US", "91"} {
			once := NormalizePhone(phone, cc)
			assert.Equal(t, once, NormalizePhone(once, cc), "phone %q country %q", phone, cc)
		}
	}
}

func TestCallingCode(t *testing.T) {
	assert.Equal(t, "91", CallingCode("IN"))
	assert.Equal(t, "91", CallingCode("in"))
	assert.Equal(t, "91", CallingCode("+91"))
	assert.Equal(t, "91", CallingCode("91"))
	assert.Equal(t, "1", CallingCode("US"))
	assert.Equal(t, "", CallingCode("XX"))
	assert.Equal(t, "", CallingCode(""))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "******3210", MaskPhone("9876543210"))
	assert.Equal(t, "********3210", MaskPhone("+919876543210"))
	assert.Equal(t, "1234", MaskPhone("1234"))
	assert.Equal(t, "", MaskPhone(""))
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<script>alert(1)</script>"))
	assert.True(t, ContainsSuspicious("ONERROR=x"))
	assert.True(t, ContainsSuspicious("${jndi:ldap://x}"))
	assert.False(t, ContainsSuspicious("Ananya Sharma"))
	assert.False(t, ContainsSuspicious("O'Brien"))
}
