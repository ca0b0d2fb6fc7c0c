package rdtp

// Request actions accepted by the server.
const (
	ActionUsernameExists = "username_exists"
	ActionCreateAccount  = "create_account"
	ActionCreateGroup    = "create_group"
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionAddToGroup     = "add_to_group"
	ActionJoinGroup      = "join_group"
	ActionSendUser       = "send_user"
	ActionSendGroup      = "send_group"
	ActionGetUsers       = "get_users"
	ActionGetGroups      = "get_groups"
	ActionFetch          = "fetch"
	ActionDeleteAccount  = "delete_account"
)

// Server-to-client actions. ActionResponse correlates to the caller's
// last request; the other two are unsolicited pushes.
const (
	ActionResponse = "R"
	ActionMessage  = "M"
	ActionKill     = "KILL"
)

// Response status codes carried in the header status byte. Clients
// always send StatusOK. StatusUnresponsive is reserved for the client's
// local timeout and never appears on the wire.
const (
	StatusOK           byte = 0
	StatusUnauthorized byte = 1
	StatusConflict     byte = 2
	StatusUnresponsive byte = 3
)
