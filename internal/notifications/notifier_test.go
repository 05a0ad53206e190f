package notifications

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedAlert struct {
	level   string
	message string
}

type fakeNotifier struct {
	alerts []capturedAlert
}

func (f *fakeNotifier) SendAlert(level, message string) error {
	f.alerts = append(f.alerts, capturedAlert{level: level, message: message})
	return nil
}

func TestNotifyOrderCompletedLevels(t *testing.T) {
	tests := []struct {
		status string
		level  string
	}{
		{"FILLED", LevelSuccess},
		{"PARTIALLY_FILLED", LevelSuccess},
		{"CANCELED", LevelInfo},
		{"FAILED", LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			fake := &fakeNotifier{}
			err := NotifyOrderCompleted(fake, "ord-1", "TWAP", tt.status, 1.5, 50000)
			require.NoError(t, err)
			require.Len(t, fake.alerts, 1)
			assert.Equal(t, tt.level, fake.alerts[0].level)
			assert.Contains(t, fake.alerts[0].message, "ord-1")
			assert.Contains(t, fake.alerts[0].message, tt.status)
		})
	}
}

func TestNoopNotifierDiscards(t *testing.T) {
	assert.NoError(t, NoopNotifier{}.SendAlert(LevelError, "ignored"))
}
