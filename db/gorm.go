package db

import (
	"fmt"
	"time"

	"CadenceFM/config"
	"CadenceFM/logger"
	"CadenceFM/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormDB 是 GORM 数据库连接实例，与 DB (*sql.DB) 并存
var GormDB *gorm.DB

// ConnectGormDB 建立 GORM 数据库连接
func ConnectGormDB(cfg *config.Config) error {
	var err error
	GormDB, err = gorm.Open(mysql.Open(mysqlDSN(cfg)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		// 禁用外键约束
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	// 获取底层的 sql.DB 并配置连接池
	sqlDB, err := GormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.Info("[DB] Successfully connected to the database with GORM.")
	return nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch logger.ParseLevel(level) {
	case logger.DebugLevel:
		return gormlogger.Info
	case logger.ErrorLevel:
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}

// CloseGormDB 关闭 GORM 数据库连接
func CloseGormDB() error {
	if GormDB == nil {
		return nil
	}
	sqlDB, err := GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Models 由 GORM 管理的模型
func Models() []interface{} {
	return []interface{}{&model.Track{}, &model.Playlist{}, &model.PlaylistTrack{}}
}

// AutoMigrateModels 自动迁移曲目与歌单表
func AutoMigrateModels() error {
	if GormDB == nil {
		return fmt.Errorf("GORM database not initialized")
	}
	if err := GormDB.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	logger.Info("[DB] Models migrated successfully with GORM.")
	return nil
}
