package mysql

import (
	"fmt"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(Options{
		Addr:     "10.0.0.5:3306",
		User:     "vend",
		Password: "secret",
		Database: "vending",
	})

	assert.Contains(t, dsn, "vend:secret@tcp(10.0.0.5:3306)/vending?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "vending", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, IsDuplicateKey(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.True(t, IsDuplicateKey(fmt.Errorf("create: %w", &mysqldriver.MySQLError{Number: 1062})))
	assert.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))
	assert.False(t, IsDuplicateKey(&mysqldriver.MySQLError{Number: 1213}))
	assert.False(t, IsDuplicateKey(nil))
}
