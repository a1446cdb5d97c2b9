package protocol

// Action is a wire-level message tag identifying a client request.
type Action string

// The closed set of actions a client may issue. The wire strings are
// inherited from the original field-sequence protocol and must not change.
const (
	ActionLogin          Action = "login"
	ActionRegister       Action = "register"
	ActionReceiveStories Action = "receive_stories"
	ActionAddStory       Action = "add_story"
	ActionUpdatePlayer   Action = "update_player"
	ActionSendAllPlayers Action = "send_all_players"
	ActionLogout         Action = "logout"
)

var knownActions = map[Action]bool{
	ActionLogin:          true,
	ActionRegister:       true,
	ActionReceiveStories: true,
	ActionAddStory:       true,
	ActionUpdatePlayer:   true,
	ActionSendAllPlayers: true,
	ActionLogout:         true,
}

// Known reports whether a is one of the dispatchable actions.
// Unknown tags are a protocol error and close the session.
func Known(a Action) bool {
	return knownActions[a]
}

// Server response strings. These remain byte-compatible with the legacy
// protocol so existing clients can interoperate.
const (
	RespLoginOK        = "True"
	RespLoginFail      = "False"
	RespRegisterOK     = "Registration successful"
	RespRegisterFail   = "Registration failed"
	RespStoryStored    = "Story added successfully."
	RespPlayerUpdated  = "Username and position received successfully."
	RespLogoutOK       = "Logout successful, you have been removed from the players list."
	RespLogoutNotFound = "Player not found, could not log out."

	AckTitle    = "title sent successfully"
	AckContent  = "content sent successfully"
	AckUsername = "username sent successfully"
	AckPosX     = "pos_x sent successfully"
	AckPosY     = "pos_y sent successfully"
	AckReceive  = "receive"
)
