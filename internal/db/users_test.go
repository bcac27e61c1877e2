package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/corestream/datacore/internal/models"
)

func TestCreateUser_Success(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	ctx := context.Background()

	req := &models.RegisterUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "securepassword",
		Language: "en",
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), req.Username, req.Email, req.Language, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO password_history").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	user, err := userDB.CreateUser(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("securepassword")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_DefaultsLanguage(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	ctx := context.Background()

	req := &models.RegisterUserRequest{Username: "bob", Email: "bob@example.com", Password: "password123"}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), req.Username, req.Email, "en", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO password_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	user, err := userDB.CreateUser(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "en", user.Language)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByUsername_NotFound(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "language", "custom_fields", "password_hash", "created_at", "updated_at"}))

	user, err := userDB.GetUserByUsername(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByUsername_DecodesCustomFields(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	fields, _ := json.Marshal(map[string]string{"nickname": "al"})
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "language", "custom_fields", "password_hash", "created_at", "updated_at"}).
		AddRow("u1", "alice", "alice@example.com", "en", fields, "hash", now, now)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").WithArgs("alice").WillReturnRows(rows)

	user, err := userDB.GetUserByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "al", user.CustomFields["nickname"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPassword_InvalidPassword(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	hash, err := bcrypt.GenerateFromPassword([]byte("correcthorse"), bcryptCost)
	require.NoError(t, err)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "language", "custom_fields", "password_hash", "created_at", "updated_at"}).
		AddRow("u1", "alice", "alice@example.com", "en", nil, string(hash), now, now)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").WithArgs("alice").WillReturnRows(rows)

	_, err = userDB.VerifyPassword(context.Background(), "alice", "wrong")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyPassword_Success(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	hash, err := bcrypt.GenerateFromPassword([]byte("correcthorse"), bcryptCost)
	require.NoError(t, err)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "username", "email", "language", "custom_fields", "password_hash", "created_at", "updated_at"}).
		AddRow("u1", "alice", "alice@example.com", "en", nil, string(hash), now, now)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").WithArgs("alice").WillReturnRows(rows)

	user, err := userDB.VerifyPassword(context.Background(), "alice", "correcthorse")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsPasswordReused(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	oldHash, err := bcrypt.GenerateFromPassword([]byte("oldpass"), bcryptCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"password_hash"}).AddRow(string(oldHash))
	mock.ExpectQuery("SELECT password_hash FROM password_history").
		WithArgs("u1", passwordHistoryDepth).
		WillReturnRows(rows)

	reused, err := userDB.IsPasswordReused(context.Background(), "u1", "oldpass")
	require.NoError(t, err)
	assert.True(t, reused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsPasswordReused_NotReused(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	oldHash, err := bcrypt.GenerateFromPassword([]byte("oldpass"), bcryptCost)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"password_hash"}).AddRow(string(oldHash))
	mock.ExpectQuery("SELECT password_hash FROM password_history").
		WithArgs("u1", passwordHistoryDepth).
		WillReturnRows(rows)

	reused, err := userDB.IsPasswordReused(context.Background(), "u1", "brandnewpass")
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePassword(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET password_hash").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO password_history").
		WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = userDB.UpdatePassword(context.Background(), "u1", "newpassword")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccount_NoFields(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	err = userDB.UpdateAccount(context.Background(), "u1", &models.UpdateAccountRequest{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAndGetStoreValue(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	value := json.RawMessage(`{"cursor":42}`)

	mock.ExpectExec("INSERT INTO store_kv").
		WithArgs("passwordReset", "u1", "cursor", value, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	err = userDB.SetStoreValue(context.Background(), "passwordReset", "u1", "cursor", value)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"value"}).AddRow(value)
	mock.ExpectQuery("SELECT value FROM store_kv").
		WithArgs("passwordReset", "u1", "cursor").
		WillReturnRows(rows)

	got, err := userDB.GetStoreValue(context.Background(), "passwordReset", "u1", "cursor")
	require.NoError(t, err)
	assert.JSONEq(t, string(value), string(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUser(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	userDB := NewUserDB(sqlDB)
	mock.ExpectExec("DELETE FROM users WHERE id").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))

	err = userDB.DeleteUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
