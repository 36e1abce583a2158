package handlers

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/watchparty-signaling/internal/models"
	"github.com/mossy-p/watchparty-signaling/internal/relay"
)

const (
	roomCodeLength   = 6
	roomCodeAttempts = 10
	codeChars        = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// CreateRoom hands out a room code that is not currently occupied. Nothing
// is reserved; the room comes into existence when the first peer joins.
func CreateRoom(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		for i := 0; i < roomCodeAttempts; i++ {
			code, err := generateRoomCode()
			if err != nil {
				log.Error("failed to generate room code", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
				return
			}

			_, taken, err := hub.RoomInfo(c.Request.Context(), code)
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
				return
			}
			if taken {
				continue
			}

			log.Info("room code issued", zap.String("roomId", code))
			c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomID: code})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to create room"})
	}
}

// GetRoom reports the occupancy of a room (public)
func GetRoom(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")

		info, ok, err := hub.RoomInfo(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server is shutting down"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// generateRoomCode generates a random room code
func generateRoomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			return "", fmt.Errorf("failed to read random: %w", err)
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code), nil
}
