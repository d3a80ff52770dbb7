// Package wire holds the JSON bodies of the game endpoint, shared by the server and the client.
package wire

const (
	ActionCreateGame = "create_game"
	ActionJoinGame   = "join_game"
	ActionSetImage   = "set_image"
	ActionEndGame    = "end_game"
)

type (
	// WriteRequest is the body of every POST; Action selects which other fields are used.
	WriteRequest struct {
		Action     string  `json:"action"`
		GameCode   string  `json:"game_code,omitempty"`
		PlayerName string  `json:"player_name,omitempty"`
		GameID     string  `json:"game_id,omitempty"`
		ImageURL   *string `json:"image_url,omitempty"`
	}

	CreateGameResponse struct {
		GameID string `json:"game_id"`
		Code   string `json:"code"`
	}

	JoinGameResponse struct {
		PlayerID string `json:"player_id"`
		GameID   string `json:"game_id"`
		Name     string `json:"name"`
	}

	UpdateScoreRequest struct {
		PlayerID   string `json:"player_id"`
		ScoreDelta *int64 `json:"score_delta"`
	}

	UpdateScoreResponse struct {
		NewScore int64 `json:"new_score"`
	}

	SuccessResponse struct {
		Success bool `json:"success"`
	}

	Game struct {
		GameID       string   `json:"game_id"`
		Code         string   `json:"code"`
		Players      []Player `json:"players"`
		CurrentImage *string  `json:"current_image"`
	}

	Player struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Score int64  `json:"score"`
	}

	Leaderboard struct {
		GameID  string             `json:"game_id"`
		Code    string             `json:"code"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Rank  int    `json:"rank"`
		ID    string `json:"id"`
		Name  string `json:"name"`
		Score int64  `json:"score"`
	}

	Error struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
)
