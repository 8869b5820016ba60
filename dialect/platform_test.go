package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBibPlatform(t *testing.T) {
	var p Platform = BibPlatform{}
	assert.Equal(t, MySQL, p.Name())
	assert.False(t, p.SupportsForeignKeyConstraints())
	assert.Equal(t, "`user`", p.QuoteIdentifier("user"))
	assert.Equal(t, "?", p.Placeholder(3))
	assert.False(t, p.SupportsReturning())

	assert.True(t, MySQLPlatform{}.SupportsForeignKeyConstraints(), "default mysql keeps foreign keys")
}

func TestPlatformFor(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		fk      bool
	}{
		{"MySQL", MySQL, true},
		{"SQLite", SQLite, true},
		{"Postgres", Postgres, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := PlatformFor(tt.dialect)
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, p.Name())
			assert.Equal(t, tt.fk, p.SupportsForeignKeyConstraints())
		})
	}

	_, err := PlatformFor("oracle")
	require.Error(t, err)
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, "`a``b`", SQLitePlatform{}.QuoteIdentifier("a`b"))
	assert.Equal(t, `"a""b"`, PostgresPlatform{}.QuoteIdentifier(`a"b`))
	assert.Equal(t, "$2", PostgresPlatform{}.Placeholder(2))
}
