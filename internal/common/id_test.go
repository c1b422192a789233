package common

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewJobID(t *testing.T) {
	id := NewJobID("connect")
	assert.Regexp(t, regexp.MustCompile(`^connect_\d{13}_[a-z0-9]{9}$`), id)
	assert.NotEqual(t, id, NewJobID("connect"))
}

func TestNewBulkJobID(t *testing.T) {
	id := NewBulkJobID("bulk_reply", 7)
	assert.Regexp(t, regexp.MustCompile(`^bulk_reply_\d{13}_7_[a-z0-9]{5}$`), id)
}
