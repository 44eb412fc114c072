package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"CadenceFM/model"
)

// ErrDuplicateUser 用户名或邮箱已被占用
var ErrDuplicateUser = errors.New("username or email already exists")

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) (int64, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// sqlUserRepository implements UserRepository on database/sql.
type sqlUserRepository struct {
	db *sql.DB
}

// NewSQLUserRepository creates a new user repository over db.
func NewSQLUserRepository(db *sql.DB) UserRepository {
	return &sqlUserRepository{db: db}
}

const userColumns = "id, username, email, password_hash, phone, preferences, created_at, updated_at"

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isDuplicateKey 识别 MySQL 1062 与 SQLite 唯一约束错误
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateUser adds a new user to the database.
func (r *sqlUserRepository) CreateUser(ctx context.Context, user *model.User) (int64, error) {
	query := "INSERT INTO users (username, email, password_hash, phone, preferences, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)"
	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare create user statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Truncate(time.Second)
	res, err := stmt.ExecContext(ctx, user.Username, user.Email, user.PasswordHash,
		nullString(user.Phone), nullString(user.Preferences), now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrDuplicateUser
		}
		return 0, fmt.Errorf("failed to execute create user statement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for user: %w", err)
	}
	user.ID = id
	user.CreatedAt, user.UpdatedAt = now, now
	return id, nil
}

func (r *sqlUserRepository) getUserBy(ctx context.Context, column string, value interface{}) (*model.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + column + " = ?"
	row := r.db.QueryRowContext(ctx, query, value)

	user := &model.User{}
	var phone, preferences sql.NullString
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &phone, &preferences, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to scan user row for %s %v: %w", column, value, err)
	}
	user.Phone = phone.String
	user.Preferences = preferences.String
	return user, nil
}

// GetUserByID retrieves a user by their ID.
func (r *sqlUserRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getUserBy(ctx, "id", id)
}

// GetUserByUsername retrieves a user by their username.
func (r *sqlUserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getUserBy(ctx, "username", username)
}

// GetUserByEmail retrieves a user by their email address.
func (r *sqlUserRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getUserBy(ctx, "email", email)
}
