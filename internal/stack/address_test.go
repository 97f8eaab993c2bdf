package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Address
		wantErr bool
	}{
		{
			name:  "upper case",
			input: "AA:BB:CC:DD:EE:FF",
			want:  Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		},
		{
			name:  "lower case",
			input: "aa:bb:cc:dd:ee:ff",
			want:  Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		},
		{
			name:    "too few octets",
			input:   "AA:BB:CC:DD:EE",
			wantErr: true,
		},
		{
			name:    "bad octet",
			input:   "AA:BB:CC:DD:EE:GG",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddressRoundTrip(t *testing.T) {
	addr, err := ParseAddress("11:22:33:44:55:66")
	require.NoError(t, err)

	back, err := AddressFromBytes(addr.Bytes())
	require.NoError(t, err)
	assert.Equal(t, addr, back)
	assert.Equal(t, "11:22:33:44:55:66", back.String())
}

func TestAddressFromBytesLength(t *testing.T) {
	_, err := AddressFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestAddressBytesIsACopy(t *testing.T) {
	addr := Address{1, 2, 3, 4, 5, 6}
	b := addr.Bytes()
	b[0] = 0xFF
	assert.Equal(t, Address{1, 2, 3, 4, 5, 6}, addr)
}

func TestAddressIsZero(t *testing.T) {
	assert.True(t, Address{}.IsZero())
	assert.False(t, Address{1}.IsZero())
}
