package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"

	"CadenceFM/config"
)

func TestMySQLDSN(t *testing.T) {
	cfg := &config.Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: "3307", DBName: "cadence"}
	assert.Equal(t, "u:p@tcp(db:3307)/cadence?charset=utf8mb4&parseTime=true&loc=UTC", mysqlDSN(cfg))
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Info, gormLogLevel("debug"))
	assert.Equal(t, gormlogger.Warn, gormLogLevel("info"))
	assert.Equal(t, gormlogger.Error, gormLogLevel("error"))
}

func TestAutoMigrateRequiresConnection(t *testing.T) {
	GormDB = nil
	assert.Error(t, AutoMigrateModels())
	assert.NoError(t, CloseGormDB())
	assert.Len(t, Models(), 3)
}
