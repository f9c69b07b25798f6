package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewFilename(t *testing.T) {
	assert.Equal(t,
		"Quarterly-report_bobATexample.com_aliceATexample.com.eml",
		NewFilename(" Quarterly report ", "bob@example.com", "alice@example.com"))

	assert.Equal(t, "_None_.eml", NewFilename("", "None", ""))
}

func TestNewDestinationKey(t *testing.T) {
	sent := time.Date(2024, 3, 9, 17, 4, 5, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "processed/2024-03-09/a_b_c.eml", NewDestinationKey("processed", sent, "a_b_c.eml"))
	assert.Equal(t, "processed/2024-03-09/a_b_c.eml", NewDestinationKey("processed/", sent, "a_b_c.eml"))
	assert.Equal(t, "mail/filed/2024-03-09/x.eml", NewDestinationKey("mail/filed", sent, "x.eml"))
}

func TestSameFolder(t *testing.T) {
	assert.True(t, SameFolder("inbound", "inbound"))
	assert.True(t, SameFolder("inbound/", "/inbound"))
	assert.False(t, SameFolder("inbound", "processed"))
	assert.False(t, SameFolder("inbound", "inbound/processed"))
}

func TestInFolder(t *testing.T) {
	assert.True(t, InFolder("processed/2024-01-01/x.eml", "processed"))
	assert.True(t, InFolder("processed/2024-01-01/x.eml", "processed/"))
	assert.False(t, InFolder("processed-old/x.eml", "processed"))
	assert.False(t, InFolder("inbound/abc", "processed"))
	assert.False(t, InFolder("anything", ""))
}

func TestIsFiledKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		main      string
		processed string
		want      bool
	}{
		{"sibling folders, filed copy", "processed/2024-01-01/x.eml", "inbound", "processed", true},
		{"sibling folders, inbound", "inbound/abc", "inbound", "processed", false},
		{"main nested in processed, inbound", "mail/inbound/abc", "mail/inbound", "mail", false},
		{"main nested in processed, filed copy", "mail/2024-01-01/x.eml", "mail/inbound", "mail", true},
		{"processed nested in main, inbound", "mail/abc", "mail", "mail/processed", false},
		{"processed nested in main, filed copy", "mail/processed/2024-01-01/x.eml", "mail", "mail/processed", true},
		{"whole bucket is main", "processed/2024-01-01/x.eml", "", "processed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFiledKey(tt.key, tt.main, tt.processed))
		})
	}
}

func TestAddresses(t *testing.T) {
	assert.Equal(t, "None", FirstAddress(nil, "None"))
	assert.Equal(t, "a@x", FirstAddress([]string{"a@x", "b@y"}, "None"))

	assert.Equal(t, "", JoinAddresses(nil))
	assert.Equal(t, "a@x,b@y", JoinAddresses([]string{"a@x", " ", "b@y"}))
}
