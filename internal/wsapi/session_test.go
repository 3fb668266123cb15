package wsapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimASCIISpace(t *testing.T) {
	assert.Equal(t, []byte("ping"), trimASCIISpace([]byte("  ping\r\n")))
	assert.Equal(t, []byte(""), trimASCIISpace([]byte("   ")))
	assert.Equal(t, []byte("ping"), trimASCIISpace([]byte("ping")))
}
