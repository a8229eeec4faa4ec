package settings_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/queuectl/internal/settings"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		key, value string
		wantErr    error
	}{
		{"max_retries", "5", nil},
		{"max_retries", "0", settings.ErrInvalidValue},
		{"max_retries", "abc", settings.ErrInvalidValue},
		{"worker_count", "-1", settings.ErrInvalidValue},
		{"concurrency_per_worker", "4", nil},
		{"exponential_base", "1.5", nil},
		{"exponential_base", "1", nil},
		{"exponential_base", "0.9", settings.ErrInvalidValue},
		{"poll_interval", "1", settings.ErrUnknownKey},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			err := settings.Validate(tc.key, tc.value)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestFromEntries(t *testing.T) {
	s := settings.FromEntries([]settings.Entry{
		{Key: "max_retries", Value: "4"},
		{Key: "exponential_base", Value: "3"},
		{Key: "concurrency_per_worker", Value: "bogus"},
		{Key: "something_else", Value: "9"},
	})
	assert.Equal(t, 4, s.MaxRetries)
	assert.Equal(t, 3.0, s.ExponentialBase)
	assert.Equal(t, 1, s.WorkerCount)
	assert.Equal(t, 3, s.ConcurrencyPerWorker, "malformed value keeps the default")
}

func TestFromEntries_Empty(t *testing.T) {
	assert.Equal(t, settings.Defaults(), settings.FromEntries(nil))
}
