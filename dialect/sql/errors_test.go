package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsConstraintError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		unique bool
		fk     bool
	}{
		{"nil", nil, false, false},
		{"other", errors.New("boom"), false, false},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true, false},
		{"mysql fk child", &mysql.MySQLError{Number: 1452}, false, true},
		{"pq unique", &pq.Error{Code: "23505"}, true, false},
		{"pq fk", fmt.Errorf("wrapped: %w", &pq.Error{Code: "23503"}), false, true},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: tag.slug (2067)"), true, false},
		{"sqlite fk", errors.New("FOREIGN KEY constraint failed"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueConstraintError(tt.err))
			assert.Equal(t, tt.fk, IsForeignKeyConstraintError(tt.err))
			assert.Equal(t, tt.unique || tt.fk, IsConstraintError(tt.err))
		})
	}
}
