package api

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/quizsync/internal/api/wire"
	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/errors"
	"github.com/victornm/quizsync/internal/leaderboard"
	"github.com/victornm/quizsync/internal/session"
)

const (
	DefaultPath         = "/game"
	DefaultMaxBodyBytes = 8 << 20

	qrSize = 320
)

type Config struct {
	Router      gin.IRouter
	Session     *session.Service
	Leaderboard *leaderboard.Service

	// Path of the game endpoint. Defaults to DefaultPath.
	Path         string
	MaxBodyBytes int64
	// JoinURL is prefixed to the join code in QR codes, e.g. "https://quiz.example.com/join?code=".
	// With no JoinURL the QR code holds the bare code.
	JoinURL string
}

type API struct {
	qss *session.Service
	ls  *leaderboard.Service

	maxBody int64
	joinURL string
}

func New(c Config) *API {
	a := &API{
		qss:     c.Session,
		ls:      c.Leaderboard,
		maxBody: c.MaxBodyBytes,
		joinURL: c.JoinURL,
	}

	if a.maxBody <= 0 {
		a.maxBody = DefaultMaxBodyBytes
	}

	path := c.Path
	if path == "" {
		path = DefaultPath
	}

	c.Router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g := c.Router.Group("", cors, a.limitBody)
	g.Any(path, a.game)
	g.GET("/leaderboard", a.getLeaderboard)
	g.GET("/qr/:code", a.getQR)

	return a
}

// game serves every operation on one path: GET reads state, PUT moves a score and POST carries an
// action.
func (a *API) game(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodGet:
		a.getState(c)
	case http.MethodPut:
		a.updateScore(c)
	case http.MethodPost:
		a.write(c)
	default:
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, wire.Error{
			Error: "method not allowed",
			Code:  string(errors.KindMalformedRequest),
		})
	}
}

func (a *API) getState(c *gin.Context) {
	snap, err := a.qss.GetState(c.Request.Context(), session.GetStateRequest{Code: c.Query("game_code")})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toGame(*snap))
}

func (a *API) updateScore(c *gin.Context) {
	var req wire.UpdateScoreRequest
	if !a.bind(c, &req) {
		return
	}

	if req.ScoreDelta == nil {
		a.abort(c, errors.Malformed("score_delta is required"))
		return
	}

	resp, err := a.qss.UpdateScore(c.Request.Context(), session.UpdateScoreRequest{
		PlayerID: req.PlayerID,
		Delta:    *req.ScoreDelta,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.UpdateScoreResponse{NewScore: resp.NewScore})
}

func (a *API) write(c *gin.Context) {
	var req wire.WriteRequest
	if !a.bind(c, &req) {
		return
	}

	switch req.Action {
	case wire.ActionCreateGame:
		resp, err := a.qss.CreateGame(c.Request.Context())
		if err != nil {
			a.abort(c, err)
			return
		}

		c.JSON(http.StatusOK, wire.CreateGameResponse{GameID: resp.SessionID, Code: resp.Code})

	case wire.ActionJoinGame:
		resp, err := a.qss.JoinGame(c.Request.Context(), session.JoinGameRequest{
			Code: req.GameCode,
			Name: req.PlayerName,
		})
		if err != nil {
			a.abort(c, err)
			return
		}

		c.JSON(http.StatusOK, wire.JoinGameResponse{
			PlayerID: resp.PlayerID,
			GameID:   resp.SessionID,
			Name:     resp.Name,
		})

	case wire.ActionSetImage:
		var image string
		if req.ImageURL != nil {
			image = *req.ImageURL
		}

		if err := a.qss.SetImage(c.Request.Context(), session.SetImageRequest{SessionID: req.GameID, Image: image}); err != nil {
			a.abort(c, err)
			return
		}

		c.JSON(http.StatusOK, wire.SuccessResponse{Success: true})

	case wire.ActionEndGame:
		if err := a.qss.EndGame(c.Request.Context(), session.EndGameRequest{SessionID: req.GameID}); err != nil {
			a.abort(c, err)
			return
		}

		c.JSON(http.StatusOK, wire.SuccessResponse{Success: true})

	default:
		a.abort(c, errors.Malformed("unknown action %q", req.Action))
	}
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{Code: c.Query("game_code")})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}

func (a *API) getQR(c *gin.Context) {
	snap, err := a.qss.GetState(c.Request.Context(), session.GetStateRequest{Code: c.Param("code")})
	if err != nil {
		a.abort(c, err)
		return
	}

	png, err := qrcode.Encode(a.joinURL+snap.Code, qrcode.Medium, qrSize)
	if err != nil {
		a.abort(c, err)
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (a *API) bind(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, wire.Error{
			Error: "request body too large",
			Code:  string(errors.KindMalformedRequest),
		})
		return false
	}

	a.abort(c, errors.New(errors.KindMalformedRequest, errors.WithMessagef("invalid JSON body"), errors.WithCause(err)))
	return false
}

func (a *API) abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Kind == errors.KindInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func (a *API) limitBody(c *gin.Context) {
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxBody)
	}
	c.Next()
}

// cors allows any origin, as browsers on the players' phones load the web app from elsewhere.
func cors(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, X-Game-Code")

	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusOK)
		return
	}

	c.Next()
}

func toGame(snap domain.Snapshot) wire.Game {
	g := wire.Game{
		GameID:  snap.SessionID,
		Code:    snap.Code,
		Players: make([]wire.Player, 0, len(snap.Players)),
	}

	for _, p := range snap.Players {
		g.Players = append(g.Players, wire.Player{ID: p.PlayerID, Name: p.Name, Score: p.Score})
	}

	if snap.SharedImage != "" {
		image := snap.SharedImage
		g.CurrentImage = &image
	}

	return g
}

func toLeaderboard(l domain.Leaderboard) wire.Leaderboard {
	w := wire.Leaderboard{
		GameID:  l.SessionID,
		Code:    l.Code,
		Entries: make([]wire.LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		w.Entries = append(w.Entries, wire.LeaderboardEntry{
			Rank:  e.Rank,
			ID:    e.PlayerID,
			Name:  e.Name,
			Score: e.Score,
		})
	}

	return w
}
