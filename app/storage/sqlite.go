package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
)

// SQLite stores users and their settings. A NULL setting column means the
// user never changed it and the default applies.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, filePath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", filePath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	client := &SQLite{
		db: db,
	}

	err = client.init(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}

	return client, nil
}

func (c *SQLite) Close() error {
	return c.db.Close()
}

// AddUser registers the user or refreshes the profile of a known one. Join
// time and settings are kept for known users.
func (c *SQLite) AddUser(ctx context.Context, user e.User) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO users (id, first_name, username, joined_at, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE
				SET first_name = excluded.first_name,
				    username = excluded.username,
				    updated_at = CURRENT_TIMESTAMP`,
		user.ID, user.FirstName, user.Username,
	)
	return err
}

func (c *SQLite) GetSettings(ctx context.Context, userID int64) (e.Settings, error) {
	settings := e.DefaultSettings()

	var sendText, deleteOriginal sql.NullBool
	err := c.db.QueryRowContext(
		ctx,
		"SELECT send_text, delete_original FROM users WHERE id = ?",
		userID,
	).Scan(&sendText, &deleteOriginal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings, nil
		}

		return settings, err
	}

	if sendText.Valid {
		settings.SendText = sendText.Bool
	}
	if deleteOriginal.Valid {
		settings.DeleteOriginal = deleteOriginal.Bool
	}

	return settings, nil
}

// SetSetting stores one flag, creating the user row when needed.
func (c *SQLite) SetSetting(ctx context.Context, userID int64, key e.SettingKey, value bool) error {
	column, err := settingColumn(key)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(
		ctx,
		`INSERT INTO users (id, `+column+`, joined_at, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE
				SET `+column+` = excluded.`+column+`, updated_at = CURRENT_TIMESTAMP`,
		userID, value,
	)
	return err
}

func (c *SQLite) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func settingColumn(key e.SettingKey) (string, error) {
	switch key {
	case e.SettingSendText:
		return "send_text", nil
	case e.SettingDeleteOriginal:
		return "delete_original", nil
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}
}

//go:embed init.sql
var initQuery string

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, initQuery)
	return err
}
