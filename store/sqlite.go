package store

import (
	"database/sql"
	"regexp"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"github.com/gablg1/http-sucks-chat/models"
)

// The chat driver extends go-sqlite3 with a REGEXP function so wildcard
// lookups run inside the database instead of filtering rows in Go.
func init() {
	sql.Register("sqlite3_chat", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", func(pattern, value string) (bool, error) {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return false, err
				}
				return re.MatchString(value), nil
			}, true)
		},
	})
}

// SQLiteStore persists accounts, groups and mailboxes in a single
// SQLite database file.
type SQLiteStore struct {
	conn *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3_chat", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			logged_in INTEGER NOT NULL DEFAULT 0,
			session_token TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			name TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_name TEXT NOT NULL,
			username TEXT NOT NULL,
			UNIQUE(group_name, username)
		)`,
		`CREATE TABLE IF NOT EXISTS mailbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient TEXT NOT NULL,
			sender TEXT NOT NULL,
			origin_group TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mailbox_recipient ON mailbox(recipient, id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_session ON users(session_token)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) CreateUser(username, password string) error {
	exists, err := s.UserExists(username)
	if err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = s.conn.Exec(
		"INSERT INTO users (username, password) VALUES (?, ?)",
		username, string(hashed),
	)
	return err
}

func (s *SQLiteStore) Authenticate(username, password string) (bool, error) {
	var hashedPassword string
	err := s.conn.QueryRow("SELECT password FROM users WHERE username = ?", username).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

func (s *SQLiteStore) UserExists(username string) (bool, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLiteStore) GetUser(username string) (models.User, error) {
	var user models.User
	var loggedIn int
	err := s.conn.QueryRow(
		"SELECT username, password, logged_in, session_token FROM users WHERE username = ?",
		username,
	).Scan(&user.Username, &user.Password, &loggedIn, &user.SessionToken)
	if err == sql.ErrNoRows {
		return models.User{}, ErrUnknownUser
	}
	if err != nil {
		return models.User{}, err
	}
	user.LoggedIn = loggedIn != 0

	rows, err := s.conn.Query("SELECT group_name FROM group_members WHERE username = ?", username)
	if err != nil {
		return models.User{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var group string
		if err := rows.Scan(&group); err != nil {
			return models.User{}, err
		}
		user.Groups = append(user.Groups, group)
	}
	return user, rows.Err()
}

func (s *SQLiteStore) DeleteUser(username string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec("DELETE FROM users WHERE username = ?", username)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUnknownUser
	}

	if _, err := tx.Exec("DELETE FROM group_members WHERE username = ?", username); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM mailbox WHERE recipient = ?", username); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) FindUsers(pattern string) ([]string, error) {
	return s.findNames("SELECT username FROM users WHERE username REGEXP ?", pattern)
}

func (s *SQLiteStore) SetSession(username, token string) error {
	return s.updateSession(username, 1, token)
}

func (s *SQLiteStore) ClearSession(username string) error {
	return s.updateSession(username, 0, "")
}

func (s *SQLiteStore) updateSession(username string, loggedIn int, token string) error {
	result, err := s.conn.Exec(
		"UPDATE users SET logged_in = ?, session_token = ? WHERE username = ?",
		loggedIn, token, username,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUnknownUser
	}
	return nil
}

func (s *SQLiteStore) UserForSession(token string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}

	var username string
	err := s.conn.QueryRow(
		"SELECT username FROM users WHERE session_token = ? AND logged_in = 1",
		token,
	).Scan(&username)
	if err == sql.ErrNoRows {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	return username, nil
}

func (s *SQLiteStore) CreateGroup(name string) error {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM groups WHERE name = ?", name).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrGroupExists
	}

	_, err = s.conn.Exec("INSERT INTO groups (name) VALUES (?)", name)
	return err
}

func (s *SQLiteStore) AddUserToGroup(username, group string) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM groups WHERE name = ?", group).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ErrUnknownGroup
	}
	if err := tx.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ErrUnknownUser
	}

	// OR IGNORE keeps the membership add idempotent.
	if _, err := tx.Exec(
		"INSERT OR IGNORE INTO group_members (group_name, username) VALUES (?, ?)",
		group, username,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) GroupMembers(group string) ([]string, error) {
	var count int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM groups WHERE name = ?", group).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrUnknownGroup
	}

	return s.findAll("SELECT username FROM group_members WHERE group_name = ?", group)
}

func (s *SQLiteStore) FindGroups(pattern string) ([]string, error) {
	return s.findNames("SELECT name FROM groups WHERE name REGEXP ?", pattern)
}

func (s *SQLiteStore) QueueMessage(recipient string, msg models.Message) error {
	exists, err := s.UserExists(recipient)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownUser
	}

	_, err = s.conn.Exec(
		"INSERT INTO mailbox (recipient, sender, origin_group, body) VALUES (?, ?, ?, ?)",
		recipient, msg.From, msg.FromGroup, msg.Body,
	)
	return err
}

func (s *SQLiteStore) DrainMailbox(username string) ([]models.Message, error) {
	exists, err := s.UserExists(username)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUnknownUser
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		"SELECT sender, origin_group, body FROM mailbox WHERE recipient = ? ORDER BY id",
		username,
	)
	if err != nil {
		return nil, err
	}

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.From, &msg.FromGroup, &msg.Body); err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec("DELETE FROM mailbox WHERE recipient = ?", username); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLiteStore) findNames(query, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = ".*"
	}
	// Surface bad patterns as a Go error instead of a driver panic.
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, err
	}
	return s.findAll(query, pattern)
}

func (s *SQLiteStore) findAll(query string, args ...interface{}) ([]string, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
