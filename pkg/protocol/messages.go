package protocol

// PlayerState is one player's roster entry as it travels on the wire.
type PlayerState struct {
	Username string `json:"username"`
	PosX     int    `json:"pos_x"`
	PosY     int    `json:"pos_y"`
}

// Roster is the send_all_players response payload.
type Roster struct {
	NumPlayers int           `json:"num_players"`
	Players    []PlayerState `json:"players"`
}
