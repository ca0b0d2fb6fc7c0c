package store

import (
	"regexp"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/gablg1/http-sucks-chat/models"
)

// MemoryStore keeps everything in mutex-guarded maps. It backs the test
// suites and serves as a zero-setup default when no database path is
// configured.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]*models.User
	groups    map[string]map[string]bool
	mailboxes map[string][]models.Message
	sessions  map[string]string // token -> username
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]*models.User),
		groups:    make(map[string]map[string]bool),
		mailboxes: make(map[string][]models.Message),
		sessions:  make(map[string]string),
	}
}

func (m *MemoryStore) CreateUser(username, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; ok {
		return ErrUserExists
	}
	m.users[username] = &models.User{
		Username: username,
		Password: string(hashed),
	}
	return nil
}

func (m *MemoryStore) Authenticate(username, password string) (bool, error) {
	m.mu.RLock()
	user, ok := m.users[username]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password))
	return err == nil, nil
}

func (m *MemoryStore) UserExists(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[username]
	return ok, nil
}

func (m *MemoryStore) GetUser(username string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[username]
	if !ok {
		return models.User{}, ErrUnknownUser
	}

	// Copy so callers cannot mutate store state.
	out := *user
	out.Groups = append([]string(nil), user.Groups...)
	return out, nil
}

func (m *MemoryStore) DeleteUser(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return ErrUnknownUser
	}

	if user.SessionToken != "" {
		delete(m.sessions, user.SessionToken)
	}
	for _, members := range m.groups {
		delete(members, username)
	}
	delete(m.mailboxes, username)
	delete(m.users, username)
	return nil
}

func (m *MemoryStore) FindUsers(pattern string) ([]string, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.users {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *MemoryStore) SetSession(username, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return ErrUnknownUser
	}

	if user.SessionToken != "" {
		delete(m.sessions, user.SessionToken)
	}
	user.LoggedIn = true
	user.SessionToken = token
	m.sessions[token] = username
	return nil
}

func (m *MemoryStore) ClearSession(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[username]
	if !ok {
		return ErrUnknownUser
	}

	if user.SessionToken != "" {
		delete(m.sessions, user.SessionToken)
	}
	user.LoggedIn = false
	user.SessionToken = ""
	return nil
}

func (m *MemoryStore) UserForSession(token string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if token == "" {
		return "", ErrNoSession
	}
	username, ok := m.sessions[token]
	if !ok {
		return "", ErrNoSession
	}
	return username, nil
}

func (m *MemoryStore) CreateGroup(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[name]; ok {
		return ErrGroupExists
	}
	m.groups[name] = make(map[string]bool)
	return nil
}

func (m *MemoryStore) AddUserToGroup(username, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.groups[group]
	if !ok {
		return ErrUnknownGroup
	}
	user, ok := m.users[username]
	if !ok {
		return ErrUnknownUser
	}

	if members[username] {
		return nil
	}
	members[username] = true
	user.Groups = append(user.Groups, group)
	return nil
}

func (m *MemoryStore) GroupMembers(group string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.groups[group]
	if !ok {
		return nil, ErrUnknownGroup
	}

	var names []string
	for name := range members {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemoryStore) FindGroups(pattern string) ([]string, error) {
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.groups {
		if re.MatchString(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *MemoryStore) QueueMessage(recipient string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[recipient]; !ok {
		return ErrUnknownUser
	}
	m.mailboxes[recipient] = append(m.mailboxes[recipient], msg)
	return nil
}

func (m *MemoryStore) DrainMailbox(username string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[username]; !ok {
		return nil, ErrUnknownUser
	}

	msgs := m.mailboxes[username]
	delete(m.mailboxes, username)
	return msgs, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// compilePattern treats an empty pattern as match-all.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = ".*"
	}
	return regexp.Compile(pattern)
}
