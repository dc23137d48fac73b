// internal/pkg/mysql/gorm.go
package mysql

import (
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Options 描述连接 MySQL 所需的参数
type Options struct {
	Addr         string
	User         string
	Password     string
	Database     string
	MaxOpenConns int
}

// BuildDSN 使用驱动自带的 Config 生成 DSN，避免手工拼接时的转义问题
func BuildDSN(opts Options) string {
	cfg := mysqldriver.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = opts.Addr
	cfg.User = opts.User
	cfg.Passwd = opts.Password
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// NewGormDB 打开连接池并做一次连通性检查
func NewGormDB(opts Options) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(BuildDSN(opts)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open mysql %s", opts.Addr)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB from gorm")
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrapf(err, "ping mysql %s", opts.Addr)
	}
	return db, nil
}

// IsDuplicateKey 判断错误是否为唯一键冲突 (ER_DUP_ENTRY)
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
