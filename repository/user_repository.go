package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"musaic/model"

	"github.com/go-sql-driver/mysql"
)

// ErrDuplicateUser is returned when the email or username is already taken.
var ErrDuplicateUser = errors.New("user already exists")

const mysqlDuplicateEntry = 1062

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	CreateUser(user *model.User) (int64, error)
	GetUserByID(id int64) (*model.User, error)
	GetUserByEmail(email string) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
	UpdateAvatar(userID int64, avatarURL string) error
}

// mysqlUserRepository implements UserRepository for MySQL.
type mysqlUserRepository struct {
	db *sql.DB
}

// NewMySQLUserRepository creates a new mysqlUserRepository.
func NewMySQLUserRepository(db *sql.DB) UserRepository {
	return &mysqlUserRepository{db: db}
}

const userColumns = "id, username, email, password_hash, avatar_url, created_at, updated_at"

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// CreateUser adds a new user to the database.
func (r *mysqlUserRepository) CreateUser(user *model.User) (int64, error) {
	query := "INSERT INTO users (username, email, password_hash, avatar_url) VALUES (?, ?, ?, ?)"
	stmt, err := r.db.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare create user statement: %w", err)
	}
	defer stmt.Close()

	res, err := stmt.Exec(user.Username, user.Email, user.PasswordHash, user.AvatarURL)
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
	return id, nil
}

func (r *mysqlUserRepository) getOne(where string, arg interface{}) (*model.User, error) {
	row := r.db.QueryRow("SELECT "+userColumns+" FROM users WHERE "+where+" = ?", arg)
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to scan user row for %s %v: %w", where, arg, err)
	}
	return user, nil
}

// GetUserByID retrieves a user by their ID.
func (r *mysqlUserRepository) GetUserByID(id int64) (*model.User, error) {
	return r.getOne("id", id)
}

// GetUserByEmail retrieves a user by their email address.
func (r *mysqlUserRepository) GetUserByEmail(email string) (*model.User, error) {
	return r.getOne("email", email)
}

// GetUserByUsername retrieves a user by their username.
func (r *mysqlUserRepository) GetUserByUsername(username string) (*model.User, error) {
	return r.getOne("username", username)
}

// UpdateAvatar sets the mirrored avatar URL.
func (r *mysqlUserRepository) UpdateAvatar(userID int64, avatarURL string) error {
	stmt, err := r.db.Prepare("UPDATE users SET avatar_url = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare update avatar statement: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.Exec(avatarURL, userID); err != nil {
		return fmt.Errorf("failed to update avatar for user %d: %w", userID, err)
	}
	return nil
}
