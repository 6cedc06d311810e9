package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentMetadata_RequireIdentity(t *testing.T) {
	tests := []struct {
		name    string
		meta    PaymentMetadata
		missing string
	}{
		{"complete", PaymentMetadata{UserID: "user-1", PlanName: "TimerDCA-Pro"}, ""},
		{"no user", PaymentMetadata{PlanName: "TimerDCA-Pro"}, "userId"},
		{"no plan", PaymentMetadata{UserID: "user-1"}, "planName"},
		{"empty", PaymentMetadata{}, "userId, planName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.RequireIdentity()
			if tt.missing == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrMissingMetadata)
			assert.Contains(t, err.Error(), tt.missing)
		})
	}
}

func TestParsePaymentMetadata(t *testing.T) {
	meta := ParsePaymentMetadata(map[string]string{
		MetadataUserID:   " user-1 ",
		MetadataPlanName: "TimerDCA-Pro",
		MetadataPlanType: "Yearly",
		MetadataIsTrial:  "true",
	})

	assert.Equal(t, "user-1", meta.UserID)
	assert.Equal(t, PlanTypeYearly, meta.PlanType)
	assert.True(t, meta.IsTrial)
	assert.NoError(t, meta.RequireIdentity())
}
